package verse

import (
	"errors"
	"testing"
)

func TestParseKey(t *testing.T) {
	tests := []struct {
		in      string
		want    Key
		wantErr bool
	}{
		{"2:255", Key{2, 255}, false},
		{" 36 ", Key{36, 1}, false},
		{"1:0", Key{}, true},
		{"x:1", Key{}, true},
		{"", Key{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseKey(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidKey) {
					t.Fatalf("expected ErrInvalidKey, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
			if got.String() != tt.want.String() {
				t.Errorf("String() = %q", got.String())
			}
		})
	}
}

func TestParseSpan(t *testing.T) {
	from, to, err := ParseSpan("2:255-257")
	if err != nil {
		t.Fatal(err)
	}
	if from != (Key{2, 255}) || to != (Key{2, 257}) {
		t.Errorf("got %v-%v", from, to)
	}

	if _, _, err := ParseSpan("2:255-200"); err == nil {
		t.Error("expected error for inverted span")
	}
}

func TestQuranTable(t *testing.T) {
	q := Quran()
	if q.Chapters() != 114 {
		t.Fatalf("chapters = %d", q.Chapters())
	}
	if q.Total() != 6236 {
		t.Errorf("total verses = %d", q.Total())
	}
	if q.VerseCount(2) != 286 {
		t.Errorf("al-baqarah has %d verses", q.VerseCount(2))
	}

	next, ok := q.Next(Key{2, 255})
	if !ok || next != (Key{2, 256}) {
		t.Errorf("Next(2:255) = %v, %v", next, ok)
	}
	if _, ok := q.Next(Key{1, 7}); ok {
		t.Error("Next must not leave the chapter")
	}
	if _, ok := q.Previous(Key{1, 1}); ok {
		t.Error("Previous of first verse should not exist")
	}
	if !q.IsLastInChapter(Key{114, 6}) {
		t.Error("114:6 is the last verse of its chapter")
	}
	if err := q.Validate(Key{115, 1}); err == nil {
		t.Error("expected error for chapter 115")
	}
}

func TestFindReciter(t *testing.T) {
	r, err := FindReciter("husary_128kbps")
	if err != nil || r.Folder != "Husary_128kbps" {
		t.Fatalf("exact folder lookup: %v, %v", r, err)
	}

	r, err = FindReciter("alafasy")
	if err != nil {
		t.Fatal(err)
	}
	if r.Folder != "Alafasy_128kbps" {
		t.Errorf("fuzzy lookup = %s", r.Folder)
	}

	if _, err := FindReciter("zzzzqqq"); !errors.Is(err, ErrUnknownReciter) {
		t.Errorf("expected ErrUnknownReciter, got %v", err)
	}
}

func TestURLBuilder(t *testing.T) {
	b := URLBuilder{Base: "https://example.org/data/", Folder: "Alafasy_128kbps"}
	got := b.URL(Key{2, 5})
	want := "https://example.org/data/Alafasy_128kbps/002005.mp3"
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}
