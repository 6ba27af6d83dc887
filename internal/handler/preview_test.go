package handler

import (
	"io"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/HandyWote/gemini-proxy/internal/model"
)

func TestNewPreviewWriter_SkipsOtherContent(t *testing.T) {
	if p := newPreviewWriter(model.ContentOther); p != nil {
		t.Error("newPreviewWriter(ContentOther) should return nil")
	}
}

func TestPreviewWriter(t *testing.T) {
	tests := []struct {
		name          string
		class         model.ContentClass
		input         string
		wantRunes     int
		wantTruncated bool
	}{
		{"short json", model.ContentJSON, `{"a":1}`, 7, false},
		{"json at limit", model.ContentJSON, strings.Repeat("x", 500), 500, false},
		{"long json", model.ContentJSON, strings.Repeat("x", 5000), 500, true},
		{"long text", model.ContentText, strings.Repeat("y", 300), 200, true},
		{"multibyte text", model.ContentText, strings.Repeat("é", 250), 200, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPreviewWriter(tt.class)

			// Write in small chunks the way a stream arrives.
			r := strings.NewReader(tt.input)
			buf := make([]byte, 7)
			for {
				n, err := r.Read(buf)
				if n > 0 {
					if w, _ := p.Write(buf[:n]); w != n {
						t.Fatalf("Write() = %d, want %d", w, n)
					}
				}
				if err == io.EOF {
					break
				}
			}

			got, truncated := p.Preview()
			if n := utf8.RuneCountInString(got); n != tt.wantRunes {
				t.Errorf("preview has %d characters, want %d", n, tt.wantRunes)
			}
			if truncated != tt.wantTruncated {
				t.Errorf("truncated = %v, want %v", truncated, tt.wantTruncated)
			}
			if !strings.HasPrefix(tt.input, got) {
				t.Errorf("preview %q is not a prefix of the input", got)
			}
			if p.Total() != int64(len(tt.input)) {
				t.Errorf("Total() = %d, want %d", p.Total(), len(tt.input))
			}
		})
	}
}

func TestTeeBody_MirrorsReads(t *testing.T) {
	p := newPreviewWriter(model.ContentJSON)
	body := teeBody(io.NopCloser(strings.NewReader(`{"model":"gemini"}`)), p)

	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if string(data) != `{"model":"gemini"}` {
		t.Errorf("read %q, want the unmodified body", string(data))
	}
	if got, _ := p.Preview(); got != `{"model":"gemini"}` {
		t.Errorf("preview = %q, want the full body", got)
	}
	if err := body.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
