package verse

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sahilm/fuzzy"
)

// DefaultAudioBase is the root of the per-verse recitation archive.
const DefaultAudioBase = "https://everyayah.com/data"

// ErrUnknownReciter is returned when no reciter matches a query.
var ErrUnknownReciter = errors.New("unknown reciter")

// Reciter describes one recitation and the archive folder it lives in.
type Reciter struct {
	Name   string
	Folder string
}

// Reciters is the built-in catalogue.
var Reciters = reciterList{
	{Name: "Mishary Rashid Alafasy", Folder: "Alafasy_128kbps"},
	{Name: "Abdul Basit Abdul Samad (Murattal)", Folder: "Abdul_Basit_Murattal_192kbps"},
	{Name: "Abdul Basit Abdul Samad (Mujawwad)", Folder: "Abdul_Basit_Mujawwad_128kbps"},
	{Name: "Abdurrahmaan As-Sudais", Folder: "Abdurrahmaan_As-Sudais_192kbps"},
	{Name: "Mahmoud Khalil Al-Husary", Folder: "Husary_128kbps"},
	{Name: "Mohamed Siddiq Al-Minshawi (Murattal)", Folder: "Minshawy_Murattal_128kbps"},
	{Name: "Saood Ash-Shuraym", Folder: "Saood_ash-Shuraym_128kbps"},
	{Name: "Saad Al-Ghamdi", Folder: "Ghamadi_40kbps"},
	{Name: "Maher Al-Muaiqly", Folder: "MaherAlMuaiqly128kbps"},
	{Name: "Ali Al-Hudhaify", Folder: "Hudhaify_128kbps"},
	{Name: "Muhammad Ayyoub", Folder: "Muhammad_Ayyoub_128kbps"},
	{Name: "Abu Bakr Ash-Shaatree", Folder: "Abu_Bakr_Ash-Shaatree_128kbps"},
}

type reciterList []Reciter

// String and Len implement fuzzy.Source.
func (r reciterList) String(i int) string { return r[i].Name + " " + r[i].Folder }
func (r reciterList) Len() int            { return len(r) }

// FindReciter resolves a reciter by exact folder name or, failing that, by
// the best fuzzy match against names and folders.
func FindReciter(query string) (Reciter, error) {
	return Reciters.find(query)
}

func (r reciterList) find(query string) (Reciter, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return Reciter{}, fmt.Errorf("%w: empty name", ErrUnknownReciter)
	}
	for _, rc := range r {
		if strings.EqualFold(rc.Folder, q) {
			return rc, nil
		}
	}

	matches := fuzzy.FindFrom(strings.ToLower(q), lowered(r))
	if len(matches) == 0 {
		return Reciter{}, fmt.Errorf("%w: %q", ErrUnknownReciter, query)
	}
	return r[matches[0].Index], nil
}

type loweredSource struct{ reciterList }

func (l loweredSource) String(i int) string { return strings.ToLower(l.reciterList.String(i)) }

func lowered(r reciterList) fuzzy.Source { return loweredSource{r} }

// URLBuilder maps verse keys to segment URLs for one reciter.
type URLBuilder struct {
	Base   string
	Folder string
}

// URL returns the address of the audio for k, such as
// ".../Alafasy_128kbps/002255.mp3".
func (b URLBuilder) URL(k Key) string {
	base := b.Base
	if base == "" {
		base = DefaultAudioBase
	}
	return fmt.Sprintf("%s/%s/%03d%03d.mp3", strings.TrimRight(base, "/"), b.Folder, k.Chapter, k.Verse)
}
