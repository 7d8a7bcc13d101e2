package app

import (
	"context"
	"strings"
	"testing"

	"perp-edge/internal/config"
	"perp-edge/internal/market"
	"perp-edge/internal/state"
)

func TestParseOperatorCommand(t *testing.T) {
	cmd, args, ok := parseOperatorCommand("/top 3")
	if !ok || cmd != "top" {
		t.Fatalf("expected top, got %q %v", cmd, ok)
	}
	if len(args) != 1 || args[0] != "3" {
		t.Fatalf("unexpected args: %v", args)
	}
	cmd, _, ok = parseOperatorCommand("/Status@perp_edge_bot")
	if !ok || cmd != "status" {
		t.Fatalf("expected status, got %q", cmd)
	}
	if _, _, ok := parseOperatorCommand("hello"); ok {
		t.Fatalf("plain text is not a command")
	}
	if _, _, ok := parseOperatorCommand("   "); ok {
		t.Fatalf("blank text is not a command")
	}
}

func TestOperatorModeSwitchAudited(t *testing.T) {
	a := newTestApp(t)
	store := &recordingStore{Memory: state.NewMemory()}
	a.store = store
	if err := a.feeds.SetMode(market.ModeManual); err != nil {
		t.Fatalf("set mode: %v", err)
	}

	resp, err := a.handleOperatorCommand(context.Background(), "mode", []string{"MANUAL"}, operatorMeta{UserID: 1, ChatID: 2, Raw: "/mode MANUAL"})
	if err != nil {
		t.Fatalf("mode: %v", err)
	}
	if resp != "mode switched manual -> manual" {
		t.Fatalf("unexpected response %q", resp)
	}
	if store.keysWithPrefix("ops:audit:") != 1 {
		t.Fatalf("expected one audit record")
	}

	if _, err := a.handleOperatorCommand(context.Background(), "mode", []string{"paper"}, operatorMeta{}); err == nil {
		t.Fatalf("expected unknown mode error")
	}
	resp, _ = a.handleOperatorCommand(context.Background(), "mode", nil, operatorMeta{})
	if resp != "mode: manual" {
		t.Fatalf("unexpected mode text %q", resp)
	}
}

func TestManualOverridesValidate(t *testing.T) {
	base := config.ManualConfig{SpotPrice: 100}
	cases := [][]string{
		{"spot=abc"},
		{"funding=1"},
		{"spot=0"},
		{"mark=-1"},
		{"spot"},
	}
	for _, args := range cases {
		overrides, err := parseManualOverrides(args)
		if err == nil {
			_, err = applyManualOverrides(base, overrides)
		}
		if err == nil {
			t.Fatalf("expected error for %v", args)
		}
	}
	overrides, err := parseManualOverrides([]string{"futures=101", "reference_rate=0.0002"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	next, err := applyManualOverrides(base, overrides)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if next.SpotPrice != 100 || next.FuturesPrice != 101 || next.ReferenceFundingRate != 0.0002 {
		t.Fatalf("unexpected manual config %+v", next)
	}
}

func TestManualCommandOutsideManualMode(t *testing.T) {
	a := newTestApp(t)
	resp, err := a.handleOperatorCommand(context.Background(), "manual", []string{"spot=95000"}, operatorMeta{})
	if err != nil {
		t.Fatalf("manual: %v", err)
	}
	if !strings.Contains(resp, "applied on /mode manual") {
		t.Fatalf("unexpected response %q", resp)
	}
	resp, _ = a.handleOperatorCommand(context.Background(), "manual", []string{"show"}, operatorMeta{})
	if !strings.Contains(resp, "spot=95000.00") {
		t.Fatalf("expected stored manual price, got %q", resp)
	}
}

func TestOperatorCatalogViews(t *testing.T) {
	a := newTestApp(t)
	if err := a.feeds.SetMode(market.ModeManual); err != nil {
		t.Fatalf("set mode: %v", err)
	}
	a.rebuild()

	top, _ := a.handleOperatorCommand(context.Background(), "top", []string{"3"}, operatorMeta{})
	if lines := strings.Split(top, "\n"); len(lines) != 3 || !strings.HasPrefix(lines[0], "1. #") {
		t.Fatalf("unexpected top text %q", top)
	}
	detail, _ := a.handleOperatorCommand(context.Background(), "strategy", []string{"1"}, operatorMeta{})
	if !strings.HasPrefix(detail, "#1 directional_long_2x") {
		t.Fatalf("unexpected strategy text %q", detail)
	}
	missing, _ := a.handleOperatorCommand(context.Background(), "strategy", []string{"999"}, operatorMeta{})
	if missing != "strategy 999 not in current catalog" {
		t.Fatalf("unexpected missing text %q", missing)
	}
	if _, err := a.handleOperatorCommand(context.Background(), "top", []string{"x"}, operatorMeta{}); err == nil {
		t.Fatalf("expected invalid count error")
	}

	status := a.operatorStatus()
	for _, want := range []string{"mode: manual", "spot: connected=false", "venue_price: 84695.00", "catalog: 20 strategies"} {
		if !strings.Contains(status, want) {
			t.Fatalf("status missing %q:\n%s", want, status)
		}
	}
	help, _ := a.handleOperatorCommand(context.Background(), "help", nil, operatorMeta{})
	if !strings.HasPrefix(help, "commands:") {
		t.Fatalf("unexpected help %q", help)
	}
}

func TestOperatorOffsetRoundTrip(t *testing.T) {
	a := newTestApp(t)
	if got := a.loadOperatorOffset(context.Background()); got != 0 {
		t.Fatalf("expected zero offset, got %d", got)
	}
	a.saveOperatorOffset(context.Background(), 42)
	if got := a.loadOperatorOffset(context.Background()); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
}
