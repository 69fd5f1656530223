package model

import "testing"

func TestListOptions_Clamp(t *testing.T) {
	tests := []struct {
		name       string
		input      ListOptions
		wantLimit  int
		wantOffset int
	}{
		{"defaults", ListOptions{Limit: 0, Offset: 0}, 20, 0},
		{"negative limit", ListOptions{Limit: -5, Offset: 0}, 20, 0},
		{"over max", ListOptions{Limit: 200, Offset: 0}, 100, 0},
		{"negative offset", ListOptions{Limit: 10, Offset: -3}, 10, 0},
		{"valid", ListOptions{Limit: 50, Offset: 10}, 50, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.input.Clamp()
			if tt.input.Limit != tt.wantLimit {
				t.Errorf("Limit = %d, want %d", tt.input.Limit, tt.wantLimit)
			}
			if tt.input.Offset != tt.wantOffset {
				t.Errorf("Offset = %d, want %d", tt.input.Offset, tt.wantOffset)
			}
		})
	}
}

func TestNewPagination(t *testing.T) {
	opts := ListOptions{Limit: 10, Offset: 10}

	pg := NewPagination(25, 10, opts)
	if !pg.HasMore {
		t.Errorf("HasMore = false, want true for offset 10 + 10 of 25")
	}

	pg = NewPagination(20, 10, opts)
	if pg.HasMore {
		t.Errorf("HasMore = true, want false for the last page")
	}
	if pg.Total != 20 || pg.Limit != 10 || pg.Offset != 10 {
		t.Errorf("pagination = %+v", pg)
	}
}
