package media

import (
	"strings"
	"testing"
)

func TestIsSupportedExt(t *testing.T) {
	for _, ext := range []string{".mp3", ".WAV", ".flac", ".ogg"} {
		if !IsSupportedExt(ext) {
			t.Fatalf("expected %s to be supported", ext)
		}
	}
	if IsSupportedExt(".m4a") {
		t.Fatal("expected .m4a to be unsupported")
	}
	if !strings.Contains(SupportedExtsList(), ".flac") {
		t.Fatalf("expected supported list to include .flac, got %q", SupportedExtsList())
	}
}

func TestDetectByMagic(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		want Format
	}{
		{name: "flac", data: []byte("fLaC\x00\x00"), want: FormatFLAC},
		{name: "ogg", data: []byte("OggS\x00\x02"), want: FormatOGG},
		{name: "wav", data: []byte("RIFF\x24\x00\x00\x00WAVEfmt "), want: FormatWAV},
		{name: "id3", data: []byte("ID3\x04\x00"), want: FormatMP3},
		{name: "mpeg frame sync", data: []byte{0xFF, 0xFB, 0x90, 0x64}, want: FormatMP3},
		{name: "garbage", data: []byte("hello"), want: FormatUnknown},
	}
	for _, tc := range cases {
		if got := Detect(tc.data); got != tc.want {
			t.Fatalf("%s: Detect() = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestDetectFallsBackToHints(t *testing.T) {
	cases := []struct {
		hints []string
		want  Format
	}{
		{hints: []string{"flac"}, want: FormatFLAC},
		{hints: []string{"", "audio/mpeg; charset=binary"}, want: FormatMP3},
		{hints: []string{"https://cdn.example.com/a/song.ogg?sig=1"}, want: FormatOGG},
		{hints: []string{"nonsense"}, want: FormatUnknown},
	}
	for _, tc := range cases {
		if got := Detect([]byte("????"), tc.hints...); got != tc.want {
			t.Fatalf("Detect(hints=%v) = %q, want %q", tc.hints, got, tc.want)
		}
	}
}

func TestReadTagsWithoutHeader(t *testing.T) {
	if got := ReadTags([]byte{0xFF, 0xFB, 0x90}); got != (Tags{}) {
		t.Fatalf("expected empty tags, got %#v", got)
	}
}
