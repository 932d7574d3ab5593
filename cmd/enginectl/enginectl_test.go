package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tickrun/turn-engine/internal/date"
	"github.com/tickrun/turn-engine/internal/game"
	"github.com/tickrun/turn-engine/internal/model"
)

func TestSeasonCmd_Season(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	c := &seasonCmd{id: "s1", name: "Spring", min: "2020-01-01", max: "2020-12-31", turns: 20, length: 7, isDefault: true}

	s, err := c.season(now)
	if err != nil {
		t.Fatalf("season: %v", err)
	}
	if s.ID != "s1" || s.SpanDays() != 140 || !s.IsDefault || !s.CreatedAt.Equal(now) {
		t.Errorf("unexpected season %+v", s)
	}
	if s.MaxDate != date.MustParse("2020-12-31") {
		t.Errorf("expected max 2020-12-31, got %s", s.MaxDate)
	}

	c.id = ""
	if s, _ := c.season(now); s == nil || s.ID == "" {
		t.Error("expected a generated id")
	}
}

func TestSeasonCmd_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		cmd     seasonCmd
		invalid bool
	}{
		{"no name", seasonCmd{min: "2020-01-01", max: "2020-12-31", turns: 1, length: 1}, false},
		{"bad min", seasonCmd{name: "x", min: "2020/01/01", max: "2020-12-31", turns: 1, length: 1}, false},
		{"zero turns", seasonCmd{name: "x", min: "2020-01-01", max: "2020-12-31", turns: 0, length: 1}, true},
		{"window too short", seasonCmd{name: "x", min: "2020-01-01", max: "2020-01-10", turns: 10, length: 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.cmd.season(time.Now())
			if err == nil {
				t.Fatal("expected an error")
			}
			if tt.invalid && !errors.Is(err, game.ErrInvalidSeason) {
				t.Errorf("expected ErrInvalidSeason, got %v", err)
			}
		})
	}

	// Exactly enough runway is accepted.
	ok := seasonCmd{name: "x", min: "2020-01-01", max: "2020-01-11", turns: 10, length: 1}
	if _, err := ok.season(time.Now()); err != nil {
		t.Errorf("expected exact window to be accepted: %v", err)
	}
}

func TestWriteLeaderboard(t *testing.T) {
	var buf bytes.Buffer
	writeLeaderboard(&buf, []model.LeaderboardEntry{
		{GameID: "g1", OwnerID: "alice", FinalNAV: decimal.RequireFromString("12345.678"), TurnsPlayed: 20},
		{GameID: "g2", OwnerID: "bob", FinalNAV: decimal.RequireFromString("10238.2"), TurnsPlayed: 1},
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and 2 rows, got %d lines:\n%s", len(lines), buf.String())
	}
	if !strings.Contains(lines[1], "$12,345.68") || !strings.Contains(lines[1], "alice") {
		t.Errorf("unexpected first row %q", lines[1])
	}
	if !strings.Contains(lines[2], "$10,238.20") {
		t.Errorf("unexpected second row %q", lines[2])
	}
}

func TestWriteSeasons(t *testing.T) {
	var buf bytes.Buffer
	writeSeasons(&buf, []model.Season{{
		ID: "s1", Name: "Spring",
		MinDate: date.MustParse("2020-01-01"), MaxDate: date.MustParse("2020-12-31"),
		MaxTurns: 20, TurnLengthDays: 7, IsDefault: true,
	}})
	if !strings.Contains(buf.String(), "2020-01-01..2020-12-31") {
		t.Errorf("missing window in %q", buf.String())
	}
}
