package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"perp-edge/internal/alerts"
	"perp-edge/internal/config"
	"perp-edge/internal/market"
	"perp-edge/internal/state"

	"go.uber.org/zap"
)

const (
	operatorOffsetKey = "telegram:operator:last_update_id"
	defaultTopLines   = 5
)

type operatorMeta struct {
	UpdateID int64
	UserID   int64
	Username string
	ChatID   int64
	Raw      string
}

type operatorAuditEvent struct {
	UpdateID     int64                `msgpack:"update_id"`
	Time         time.Time            `msgpack:"time"`
	Action       string               `msgpack:"action"`
	Command      string               `msgpack:"command"`
	UserID       int64                `msgpack:"user_id"`
	Username     string               `msgpack:"username,omitempty"`
	ChatID       int64                `msgpack:"chat_id"`
	ModeBefore   string               `msgpack:"mode_before,omitempty"`
	ModeAfter    string               `msgpack:"mode_after,omitempty"`
	ManualBefore *config.ManualConfig `msgpack:"manual_before,omitempty"`
	ManualAfter  *config.ManualConfig `msgpack:"manual_after,omitempty"`
}

func (a *App) runOperator(ctx context.Context) {
	chatID, err := strconv.ParseInt(strings.TrimSpace(a.cfg.Telegram.ChatID), 10, 64)
	if err != nil {
		a.log.Warn("telegram operator disabled: invalid chat_id", zap.Error(err))
		return
	}
	allowedUsers := make(map[int64]struct{}, len(a.cfg.Telegram.OperatorAllowedUserIDs))
	for _, id := range a.cfg.Telegram.OperatorAllowedUserIDs {
		allowedUsers[id] = struct{}{}
	}
	a.operatorLoop(ctx, chatID, allowedUsers, a.cfg.Telegram.OperatorPollInterval)
}

func (a *App) operatorLoop(ctx context.Context, chatID int64, allowedUsers map[int64]struct{}, pollInterval time.Duration) {
	offset := a.loadOperatorOffset(ctx)
	for {
		if ctx.Err() != nil {
			return
		}
		updates, err := a.alerts.GetUpdates(ctx, offset, pollInterval)
		if err != nil {
			a.logOperatorError(err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollInterval):
			}
			continue
		}
		if a.operatorWarned {
			a.log.Info("telegram operator recovered")
			a.operatorWarned = false
		}
		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
				a.saveOperatorOffset(ctx, offset)
			}
			a.handleOperatorUpdate(ctx, upd, chatID, allowedUsers)
		}
	}
}

func (a *App) handleOperatorUpdate(ctx context.Context, upd alerts.Update, chatID int64, allowedUsers map[int64]struct{}) {
	msg := upd.Message
	if msg == nil || msg.Chat == nil || msg.From == nil {
		return
	}
	if msg.Chat.ID != chatID {
		return
	}
	if len(allowedUsers) > 0 {
		if _, ok := allowedUsers[msg.From.ID]; !ok {
			return
		}
	}
	cmd, args, ok := parseOperatorCommand(msg.Text)
	if !ok {
		return
	}
	meta := operatorMeta{
		UpdateID: upd.UpdateID,
		UserID:   msg.From.ID,
		Username: msg.From.Username,
		ChatID:   msg.Chat.ID,
		Raw:      msg.Text,
	}
	resp, err := a.handleOperatorCommand(ctx, cmd, args, meta)
	if err != nil {
		resp = fmt.Sprintf("command failed: %v", err)
	}
	if resp == "" {
		return
	}
	if err := a.alerts.Send(ctx, resp); err != nil {
		a.log.Warn("operator response failed", zap.Error(err))
	}
}

func parseOperatorCommand(text string) (string, []string, bool) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil, false
	}
	cmd := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	// group chats address commands as /cmd@botname
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	return cmd, fields[1:], true
}

func (a *App) handleOperatorCommand(ctx context.Context, cmd string, args []string, meta operatorMeta) (string, error) {
	switch cmd {
	case "status":
		return a.operatorStatus(), nil
	case "top":
		n := defaultTopLines
		if len(args) > 0 {
			parsed, err := strconv.Atoi(args[0])
			if err != nil || parsed <= 0 {
				return "", fmt.Errorf("invalid count %q", args[0])
			}
			n = parsed
		}
		return a.topText(n), nil
	case "strategy":
		if len(args) == 0 {
			return "", errors.New("usage: /strategy <id>")
		}
		id, err := strconv.Atoi(args[0])
		if err != nil {
			return "", fmt.Errorf("invalid id %q", args[0])
		}
		return a.strategyText(id), nil
	case "mode":
		return a.handleModeCommand(ctx, args, meta)
	case "manual":
		return a.handleManualCommand(ctx, args, meta)
	default:
		return operatorHelpText(), nil
	}
}

func (a *App) handleModeCommand(ctx context.Context, args []string, meta operatorMeta) (string, error) {
	if len(args) == 0 {
		return fmt.Sprintf("mode: %s", a.feeds.Mode()), nil
	}
	mode, err := market.ParseMode(strings.ToLower(args[0]))
	if err != nil {
		return "", err
	}
	before := a.feeds.Mode()
	a.watch.Reset()
	if err := a.feeds.SetMode(mode); err != nil {
		return "", err
	}
	a.auditOperatorEvent(ctx, operatorAuditEvent{
		UpdateID:   meta.UpdateID,
		Time:       a.now().UTC(),
		Action:     "mode",
		Command:    meta.Raw,
		UserID:     meta.UserID,
		Username:   meta.Username,
		ChatID:     meta.ChatID,
		ModeBefore: string(before),
		ModeAfter:  string(mode),
	})
	return fmt.Sprintf("mode switched %s -> %s", before, mode), nil
}

func (a *App) handleManualCommand(ctx context.Context, args []string, meta operatorMeta) (string, error) {
	a.opsMu.Lock()
	before := a.manual
	a.opsMu.Unlock()
	if len(args) == 0 || strings.EqualFold(args[0], "show") {
		return manualText(before), nil
	}
	overrides, err := parseManualOverrides(args)
	if err != nil {
		return "", err
	}
	next, err := applyManualOverrides(before, overrides)
	if err != nil {
		return "", err
	}
	a.opsMu.Lock()
	a.manual = next
	a.opsMu.Unlock()
	a.feeds.SetManual(next)
	a.auditOperatorEvent(ctx, operatorAuditEvent{
		UpdateID:     meta.UpdateID,
		Time:         a.now().UTC(),
		Action:       "manual_set",
		Command:      meta.Raw,
		UserID:       meta.UserID,
		Username:     meta.Username,
		ChatID:       meta.ChatID,
		ManualBefore: &before,
		ManualAfter:  &next,
	})
	if a.feeds.Mode() != market.ModeManual {
		return "manual prices updated, applied on /mode manual", nil
	}
	return "manual prices updated", nil
}

func parseManualOverrides(args []string) (map[string]string, error) {
	out := make(map[string]string)
	for _, arg := range args {
		parts := strings.SplitN(arg, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid manual setting: %s", arg)
		}
		key := strings.ToLower(strings.TrimSpace(parts[0]))
		val := strings.TrimSpace(parts[1])
		if key == "" || val == "" {
			return nil, fmt.Errorf("invalid manual setting: %s", arg)
		}
		out[key] = val
	}
	return out, nil
}

func applyManualOverrides(base config.ManualConfig, overrides map[string]string) (config.ManualConfig, error) {
	next := base
	for key, val := range overrides {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return config.ManualConfig{}, fmt.Errorf("%s: %w", key, err)
		}
		switch key {
		case "spot":
			next.SpotPrice = parsed
		case "futures":
			next.FuturesPrice = parsed
		case "mark":
			next.MarkPrice = parsed
		case "inverse":
			next.InversePrice = parsed
		case "reference_rate":
			next.ReferenceFundingRate = parsed
		case "inverse_rate":
			next.InverseFundingRate = parsed
		default:
			return config.ManualConfig{}, fmt.Errorf("unknown manual key: %s", key)
		}
	}
	if next.SpotPrice <= 0 {
		return config.ManualConfig{}, errors.New("spot must be > 0")
	}
	if next.FuturesPrice < 0 || next.MarkPrice < 0 || next.InversePrice < 0 {
		return config.ManualConfig{}, errors.New("prices must be >= 0")
	}
	return next, nil
}

func (a *App) operatorStatus() string {
	snap := a.feeds.Snapshot()
	countdown := snap.TimeToFunding(a.now())
	lines := []string{fmt.Sprintf("mode: %s", a.feeds.Mode())}
	for _, feed := range market.Feeds() {
		lines = append(lines, fmt.Sprintf("%s: connected=%t", feed, snap.IsConnected(feed)))
	}
	lines = append(lines,
		fmt.Sprintf("venue_price: %.2f", snap.VenuePrice()),
		fmt.Sprintf("reference_price: %.2f", snap.ReferencePrice()),
		fmt.Sprintf("inverse_price: %.2f", snap.InversePrice),
		fmt.Sprintf("reference_funding: %.6f%% (next %s)", snap.ReferenceFunding.Rate*100, countdown.Reference),
		fmt.Sprintf("inverse_funding: %.6f%% (next %s)", snap.InverseFunding.Rate*100, countdown.Inverse),
	)
	cat := a.Catalog()
	if cat.BuildID != "" {
		lines = append(lines,
			fmt.Sprintf("venue_funding: %.6f%%", cat.VenueRate*100),
			fmt.Sprintf("catalog: %d strategies built %s", len(cat.Strategies), cat.BuiltAt.UTC().Format(time.RFC3339)),
		)
	} else {
		lines = append(lines, "catalog: not built")
	}
	return strings.Join(lines, "\n")
}

func (a *App) topText(n int) string {
	cat := a.Catalog()
	if len(cat.Strategies) == 0 {
		return "catalog: not built"
	}
	lines := make([]string, 0, n)
	for i, s := range cat.Top(n) {
		lines = append(lines, fmt.Sprintf("%d. #%d %s apy=%.2f%% risk=%s", i+1, s.ID, s.Key, s.Metrics.APYPct, s.Risk))
	}
	return strings.Join(lines, "\n")
}

func (a *App) strategyText(id int) string {
	s, ok := a.Catalog().Find(id)
	if !ok {
		return fmt.Sprintf("strategy %d not in current catalog", id)
	}
	m := s.Metrics
	lines := []string{
		fmt.Sprintf("#%d %s (%s, %s risk)", s.ID, s.Key, s.Category, s.Risk),
		s.Description,
		fmt.Sprintf("margin: $%.2f fees: $%.2f", m.TotalMarginUSD, m.FeesUSD),
		fmt.Sprintf("funding: $%.2f/day $%.2f/month", m.DailyFundingUSD, m.MonthlyFundingUSD),
		fmt.Sprintf("roi: %.2f%% apy: %.2f%%", m.ROIPct, m.APYPct),
		fmt.Sprintf("max_loss: $%.2f", m.MaxLossUSD),
	}
	if m.TTMAPYPct != nil {
		lines = append(lines, fmt.Sprintf("ttm_apy: %.2f%%", *m.TTMAPYPct))
	}
	if m.BreakevenDays != nil {
		lines = append(lines, fmt.Sprintf("breakeven: %.1f days", *m.BreakevenDays))
	}
	if m.MinLiquidationDistancePct > 0 {
		lines = append(lines, fmt.Sprintf("liquidation_distance: %.2f%%", m.MinLiquidationDistancePct))
	}
	return strings.Join(lines, "\n")
}

func manualText(m config.ManualConfig) string {
	return fmt.Sprintf("manual: spot=%.2f futures=%.2f mark=%.2f inverse=%.2f reference_rate=%.6f inverse_rate=%.6f",
		m.SpotPrice, m.FuturesPrice, m.MarkPrice, m.InversePrice, m.ReferenceFundingRate, m.InverseFundingRate)
}

func operatorHelpText() string {
	return strings.Join([]string{
		"commands:",
		"/status - feeds, prices and funding countdown",
		"/top [n] - best ranked strategies",
		"/strategy <id> - details of one strategy",
		"/mode [live|manual] - show or switch the feed mode",
		"/manual show - show manual prices",
		"/manual key=value ... - set manual prices (keys: spot, futures, mark, inverse, reference_rate, inverse_rate)",
	}, "\n")
}

func (a *App) logOperatorError(err error) {
	if a.operatorWarned {
		return
	}
	a.operatorWarned = true
	a.log.Warn("telegram operator failed", zap.Error(err))
}

func (a *App) loadOperatorOffset(ctx context.Context) int64 {
	var offset int64
	ok, err := state.Load(ctx, a.store, operatorOffsetKey, &offset)
	if err != nil || !ok || offset < 0 {
		return 0
	}
	return offset
}

func (a *App) saveOperatorOffset(ctx context.Context, offset int64) {
	if err := state.Save(ctx, a.store, operatorOffsetKey, offset); err != nil {
		a.log.Debug("operator offset save failed", zap.Error(err))
	}
}

func (a *App) auditOperatorEvent(ctx context.Context, event operatorAuditEvent) {
	key := fmt.Sprintf("ops:audit:%d:%d", event.Time.UnixNano(), event.UpdateID)
	if err := state.Save(ctx, a.store, key, event); err != nil {
		a.log.Warn("operator audit write failed", zap.Error(err))
	}
}
