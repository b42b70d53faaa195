package verse

import "fmt"

// verseCounts holds the number of verses in each of the 114 chapters.
var verseCounts = []int{
	7, 286, 200, 176, 120, 165, 206, 75, 129, 109,
	123, 111, 43, 52, 99, 128, 111, 110, 98, 135,
	112, 78, 118, 64, 77, 227, 93, 88, 69, 60,
	34, 30, 73, 54, 45, 83, 182, 88, 75, 85,
	54, 53, 89, 59, 37, 35, 38, 29, 18, 45,
	60, 49, 62, 55, 78, 96, 29, 22, 24, 13,
	14, 11, 11, 18, 12, 12, 30, 52, 52, 44,
	28, 28, 20, 56, 40, 31, 50, 40, 46, 42,
	29, 19, 36, 25, 22, 17, 19, 26, 30, 20,
	15, 21, 11, 8, 8, 19, 5, 8, 8, 11,
	11, 8, 3, 9, 5, 4, 7, 3, 6, 3,
	5, 4, 5, 6,
}

// Table is the verse listing of a recitation. Navigation stays inside the
// chapter of the key it is given; the last verse of a chapter has no next
// item.
type Table struct {
	counts []int
}

// Quran returns the listing of the full mushaf.
func Quran() *Table {
	return &Table{counts: verseCounts}
}

// NewTable builds a listing from per-chapter verse counts.
func NewTable(counts []int) *Table {
	c := make([]int, len(counts))
	copy(c, counts)
	return &Table{counts: c}
}

// Chapters returns the number of chapters.
func (t *Table) Chapters() int {
	return len(t.counts)
}

// VerseCount returns the number of verses in chapter, or 0 if it does not
// exist.
func (t *Table) VerseCount(chapter int) int {
	if chapter < 1 || chapter > len(t.counts) {
		return 0
	}
	return t.counts[chapter-1]
}

// Total returns the number of verses across all chapters.
func (t *Table) Total() int {
	n := 0
	for _, c := range t.counts {
		n += c
	}
	return n
}

// Contains reports whether k names an existing verse.
func (t *Table) Contains(k Key) bool {
	return k.Verse >= 1 && k.Verse <= t.VerseCount(k.Chapter)
}

// Validate returns an error if k names no existing verse.
func (t *Table) Validate(k Key) error {
	if !t.Contains(k) {
		return fmt.Errorf("%w: %s does not exist", ErrInvalidKey, k)
	}
	return nil
}

// Next returns the verse after k within the same chapter.
func (t *Table) Next(k Key) (Key, bool) {
	if !t.Contains(k) || k.Verse >= t.VerseCount(k.Chapter) {
		return Key{}, false
	}
	return k.WithVerse(k.Verse + 1), true
}

// Previous returns the verse before k within the same chapter.
func (t *Table) Previous(k Key) (Key, bool) {
	if !t.Contains(k) || k.Verse <= 1 {
		return Key{}, false
	}
	return k.WithVerse(k.Verse - 1), true
}

// IsLastInChapter reports whether k is the final verse of its chapter.
func (t *Table) IsLastInChapter(k Key) bool {
	return t.Contains(k) && k.Verse == t.VerseCount(k.Chapter)
}
