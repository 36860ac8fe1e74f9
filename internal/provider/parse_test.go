package provider

import (
	"reflect"
	"testing"

	"github.com/timmy/alttext/internal/domain"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "bare object", in: `{"alt":"a"}`, want: `{"alt":"a"}`},
		{name: "fenced with tag", in: "Here you go:\n```json\n{\"alt\":\"a\"}\n```", want: `{"alt":"a"}`},
		{name: "prose around", in: `Sure! {"alt":"a","k":{"n":1}} Hope it helps.`, want: `{"alt":"a","k":{"n":1}}`},
		{name: "brace inside string", in: `{"alt":"a } b"}`, want: `{"alt":"a } b"}`},
		{name: "escaped quote", in: `{"alt":"say \"hi\" {"}`, want: `{"alt":"say \"hi\" {"}`},
		{name: "no object", in: "nothing here", wantErr: true},
		{name: "unbalanced", in: `{"alt":"a"`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ExtractJSON() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseMetadata(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    domain.Metadata
		wantErr bool
	}{
		{
			name: "full reply",
			in:   `{"alt":" A dog ","caption":"c","title":"t","keywords":["dog","Dog","park"],"score":0.7}`,
			want: domain.Metadata{Alt: "A dog", Caption: "c", Title: "t", Keywords: []string{"dog", "park"}, Score: 0.7},
		},
		{
			name: "missing score defaults",
			in:   `{"alt":"A dog","keywords":"dog, park ,"}`,
			want: domain.Metadata{Alt: "A dog", Keywords: []string{"dog", "park"}, Score: domain.DefaultVendorScore},
		},
		{
			name: "score clamped",
			in:   `{"alt":"A dog","score":1.4}`,
			want: domain.Metadata{Alt: "A dog", Score: 1},
		},
		{name: "missing alt", in: `{"caption":"c"}`, wantErr: true},
		{name: "blank alt", in: `{"alt":"   "}`, wantErr: true},
		{name: "wrong keyword type", in: `{"alt":"a","keywords":5}`, wantErr: true},
		{name: "not json", in: `no`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMetadata(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got.Keywords) == 0 {
				got.Keywords = nil
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseMetadata() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
