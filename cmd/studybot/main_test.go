package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MurHyun2/discord-study-bot/internal/attendance"
	"github.com/MurHyun2/discord-study-bot/internal/config"
	"github.com/MurHyun2/discord-study-bot/internal/ledger"
)

type mockLedger struct {
	rates    []attendance.Participation
	check    attendance.DateCheck
	err      error
	gotDay   ledger.Date
	closed   bool
	todayVal ledger.Date
}

func (m *mockLedger) Participation(ctx context.Context) ([]attendance.Participation, error) {
	return m.rates, m.err
}

func (m *mockLedger) CheckDate(ctx context.Context, day ledger.Date) (attendance.DateCheck, error) {
	m.gotDay = day
	dc := m.check
	dc.Day = day
	return dc, m.err
}

func (m *mockLedger) Today() ledger.Date { return m.todayVal }
func (m *mockLedger) Close() error       { m.closed = true; return nil }

// setupEnv points config at a temp dir with valid credentials.
func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("STUDYBOT_CONFIG", filepath.Join(dir, "config.json"))
	t.Setenv("STUDYBOT_DISCORD_TOKEN", "discord-token-123456")
	t.Setenv("STUDYBOT_CHANNEL_ID", "study")
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func withMockLedger(t *testing.T, m *mockLedger) {
	t.Helper()
	orig := openLedger
	openLedger = func(ctx context.Context, cfg *config.Config) (ledgerView, error) {
		return m, nil
	}
	t.Cleanup(func() { openLedger = orig })
}

func TestRunRate(t *testing.T) {
	setupEnv(t)
	m := &mockLedger{
		todayVal: ledger.Date{Year: 2024, Month: 3, Day: 5},
		rates: []attendance.Participation{
			{Member: attendance.Member{DisplayName: "Alice"}, ParticipatedDays: 2, TotalDays: 5, Ratio: 40},
		},
	}
	withMockLedger(t, m)

	var out bytes.Buffer
	if err := runRate(context.Background(), &out); err != nil {
		t.Fatalf("runRate error: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "as of 2024-03-05") || !strings.Contains(got, "40.0%") || !strings.Contains(got, "2/5 days") {
		t.Errorf("output = %q", got)
	}
	if !m.closed {
		t.Error("ledger should be closed")
	}
}

func TestRunRate_Error(t *testing.T) {
	setupEnv(t)
	withMockLedger(t, &mockLedger{err: errors.New("503")})

	if err := runRate(context.Background(), &bytes.Buffer{}); err == nil {
		t.Error("expected error")
	}
}

func TestRunRate_MissingConfig(t *testing.T) {
	setupEnv(t)
	t.Setenv("STUDYBOT_DISCORD_TOKEN", "")
	withMockLedger(t, &mockLedger{})

	err := runRate(context.Background(), &bytes.Buffer{})
	if !errors.Is(err, config.ErrMissing) {
		t.Errorf("err = %v, want ErrMissing", err)
	}
}

func TestRunCheck_DefaultsToToday(t *testing.T) {
	setupEnv(t)
	m := &mockLedger{
		todayVal: ledger.Date{Year: 2024, Month: 3, Day: 5},
		check: attendance.DateCheck{
			Participants: []attendance.Participant{{Member: attendance.Member{DisplayName: "Alice"}, Content: "graphs\nand trees"}},
			Absentees:    []attendance.Member{{DisplayName: "Bob"}},
		},
	}
	withMockLedger(t, m)

	var out bytes.Buffer
	if err := runCheck(context.Background(), &out, ""); err != nil {
		t.Fatalf("runCheck error: %v", err)
	}
	if m.gotDay != m.todayVal {
		t.Errorf("checked %v, want today", m.gotDay)
	}
	got := out.String()
	for _, want := range []string{"Study status for 2024-03-05", "Recorded (1):", "Alice: graphs and trees", "Missing (1):", "  Bob"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestRunCheck_ExplicitDate(t *testing.T) {
	setupEnv(t)
	m := &mockLedger{}
	withMockLedger(t, m)

	if err := runCheck(context.Background(), &bytes.Buffer{}, "2024-02-29"); err != nil {
		t.Fatalf("runCheck error: %v", err)
	}
	if want := (ledger.Date{Year: 2024, Month: 2, Day: 29}); m.gotDay != want {
		t.Errorf("checked %v, want %v", m.gotDay, want)
	}
}

func TestRunCheck_InvalidDate(t *testing.T) {
	setupEnv(t)
	withMockLedger(t, &mockLedger{})

	if err := runCheck(context.Background(), &bytes.Buffer{}, "02/29/2024"); err == nil {
		t.Error("expected error for malformed date")
	}
}

func TestRunOnboard(t *testing.T) {
	dir := setupEnv(t)

	var out bytes.Buffer
	if err := runOnboard(&out); err != nil {
		t.Fatalf("runOnboard error: %v", err)
	}
	if !strings.Contains(out.String(), "Created config") {
		t.Errorf("output = %q", out.String())
	}
	info, err := os.Stat(filepath.Join(dir, "config.json"))
	if err != nil {
		t.Fatalf("config not written: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("config mode = %v, want 0600", info.Mode().Perm())
	}

	out.Reset()
	if err := runOnboard(&out); err != nil {
		t.Fatalf("second runOnboard error: %v", err)
	}
	if !strings.Contains(out.String(), "already exists") {
		t.Errorf("output = %q", out.String())
	}
}

func TestRunStatus(t *testing.T) {
	setupEnv(t)

	var out bytes.Buffer
	if err := runStatus(&out); err != nil {
		t.Fatalf("runStatus error: %v", err)
	}
	got := out.String()
	for _, want := range []string{"Discord token: disc...3456", "Study channel: study", "Guild: from channel", "Ready: yes"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestRunStatus_NotReady(t *testing.T) {
	setupEnv(t)
	t.Setenv("STUDYBOT_CHANNEL_ID", "")

	var out bytes.Buffer
	_ = runStatus(&out)
	if !strings.Contains(out.String(), "Ready: no") {
		t.Errorf("output = %q", out.String())
	}
}

func TestMaskSecret(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", "not set"},
		{"short", "set"},
		{"abcdefghijkl", "abcd...ijkl"},
	}
	for _, tt := range tests {
		if got := maskSecret(tt.in); got != tt.want {
			t.Errorf("maskSecret(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRootCommands(t *testing.T) {
	want := map[string]bool{"gateway": false, "rate": false, "check": false, "onboard": false, "status": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("missing subcommand %s", name)
		}
	}
	if checkCmd.Flags().Lookup("date") == nil {
		t.Error("check should have a --date flag")
	}
}
