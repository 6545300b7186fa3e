package alerts

import (
	"errors"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/evofunk/internal/strategy"
)

type recordingAlerter struct {
	alerts []Alert
	err    error
}

func (r *recordingAlerter) Send(alert Alert) error {
	r.alerts = append(r.alerts, alert)
	return r.err
}

func TestManagerFansOut(t *testing.T) {
	m := NewManager()
	a := &recordingAlerter{}
	b := &recordingAlerter{}
	m.Register(a)
	m.Register(b)

	m.Send(Alert{Severity: SeverityInfo, Title: "test"})
	assert.Len(t, a.alerts, 1)
	assert.Len(t, b.alerts, 1)
}

func TestManagerSurvivesFailingAlerter(t *testing.T) {
	m := NewManager()
	failing := &recordingAlerter{err: errors.New("chat unreachable")}
	healthy := &recordingAlerter{}
	m.Register(failing)
	m.Register(healthy)

	m.Send(Alert{Title: "still delivered"})
	assert.Len(t, healthy.alerts, 1)
}

func TestLifecycleNotifications(t *testing.T) {
	m := NewManager()
	rec := &recordingAlerter{}
	m.Register(rec)

	s := strategy.New("mom-btc", "BTCUSDT", strategy.FamilyMomentum, strategy.Genome{"stop_loss_pct": 0.02})
	s.Fitness = 0.66

	m.NotifyPromotion(s, strategy.StatusRealEnvSim, strategy.StatusSmallReal)
	m.NotifyRetirement(s)
	m.NotifyProtection(s, strategy.ProtectionElite)
	m.EvolutionCommitted(&strategy.EvolutionEvent{
		StrategyID: s.ID, OldFitness: 0.5, NewFitness: 0.66,
		Type: strategy.MethodMutation, Trigger: "routine",
	})

	require.Len(t, rec.alerts, 4)
	assert.Equal(t, "Strategy promoted", rec.alerts[0].Title)
	assert.Equal(t, SeverityWarning, rec.alerts[1].Severity)
	assert.Contains(t, rec.alerts[2].Message, "elite")
	assert.Contains(t, rec.alerts[3].Message, "0.5000 -> 0.6600")
}

type fakeBot struct {
	sent []tgbotapi.Chattable
	err  error
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, f.err
}

func TestTelegramAlerterFormatsMessage(t *testing.T) {
	bot := &fakeBot{}
	alerter := &TelegramAlerter{api: bot, chatID: 42}

	err := alerter.Send(Alert{Severity: SeverityWarning, Title: "Strategy retired", Message: "details"})
	require.NoError(t, err)
	require.Len(t, bot.sent, 1)

	msg, ok := bot.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, int64(42), msg.ChatID)
	assert.Contains(t, msg.Text, "Strategy retired")
	assert.Equal(t, tgbotapi.ModeMarkdown, msg.ParseMode)
}

func TestTelegramAlerterPropagatesError(t *testing.T) {
	bot := &fakeBot{err: errors.New("403")}
	alerter := &TelegramAlerter{api: bot, chatID: 42}

	err := alerter.Send(Alert{Title: "x"})
	assert.Error(t, err)
}
