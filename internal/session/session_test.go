package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/elfradio/elfradio/internal/ai"
	"github.com/elfradio/elfradio/internal/config"
	"github.com/elfradio/elfradio/internal/events"
	"github.com/elfradio/elfradio/internal/hardware"
	"github.com/elfradio/elfradio/internal/models"
	"github.com/elfradio/elfradio/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- fakes ---

type fakeProviders struct {
	mu       sync.Mutex
	sttText  string
	sttErr   error
	reply    string
	ttsTexts []string
	// ttsStarted, when set, makes synthesis block until its context ends.
	ttsStarted chan struct{}
	ttsErr     chan error
}

func (f *fakeProviders) SpeechToText(ctx context.Context, audio ai.Audio, lang string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sttText, f.sttErr
}

func (f *fakeProviders) TextToSpeech(ctx context.Context, text, voice string) (ai.Audio, error) {
	f.mu.Lock()
	f.ttsTexts = append(f.ttsTexts, text)
	started := f.ttsStarted
	f.mu.Unlock()
	if started != nil {
		close(started)
		<-ctx.Done()
		f.ttsErr <- ctx.Err()
		return ai.Audio{}, ctx.Err()
	}
	return ai.Audio{PCM: hardware.GenerateTones([]int{800}, 20, 16000), SampleRate: 16000}, nil
}

func (f *fakeProviders) Chat(ctx context.Context, history []ai.Message, prompt string) (string, error) {
	return f.reply, nil
}

func (f *fakeProviders) spoken() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ttsTexts...)
}

type memPersister struct {
	mu   sync.Mutex
	recs []store.Record
}

func (m *memPersister) Offer(rec store.Record) {
	m.mu.Lock()
	m.recs = append(m.recs, rec)
	m.mu.Unlock()
}

func (m *memPersister) logs(dir models.Direction) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, r := range m.recs {
		if r.Log != nil && r.Log.Direction == dir {
			out = append(out, r.Log.Content)
		}
	}
	return out
}

// blockingSink never finishes playing on its own.
type blockingSink struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingSink() *blockingSink {
	return &blockingSink{started: make(chan struct{}), release: make(chan struct{})}
}

func (b *blockingSink) Play(ctx context.Context, pcm []byte, rate int) error {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return nil
}
func (b *blockingSink) SampleRate() int                { return 16000 }
func (b *blockingSink) Ping(ctx context.Context) error { return nil }

// fakeClock fires After channels only when advanced.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []fakeWaiter
}

type fakeWaiter struct {
	at time.Time
	d  time.Duration
	ch chan time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.waiters = append(c.waiters, fakeWaiter{at: c.now.Add(d), d: d, ch: ch})
	return ch
}

func (c *fakeClock) pending() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []time.Duration
	for _, w := range c.waiters {
		out = append(out, w.d)
	}
	return out
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	kept := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.at.After(c.now) {
			w.ch <- c.now
			continue
		}
		kept = append(kept, w)
	}
	c.waiters = kept
}

// recorder collects every event published on the bus.
type recorder struct {
	mu     sync.Mutex
	events []models.StatusEvent
}

func newRecorder(t *testing.T, bus *events.Bus) *recorder {
	r := &recorder{}
	ch, unsub := bus.Subscribe()
	t.Cleanup(unsub)
	go func() {
		for ev := range ch {
			r.mu.Lock()
			r.events = append(r.events, ev)
			r.mu.Unlock()
		}
	}()
	return r
}

func (r *recorder) snapshot() []models.StatusEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.StatusEvent(nil), r.events...)
}

func (r *recorder) waitFor(t *testing.T, match func(models.StatusEvent) bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, ev := range r.snapshot() {
			if match(ev) {
				return true
			}
		}
		return false
	}, 5*time.Second, 5*time.Millisecond)
}

func isStage(kind models.StageKind, state models.StageState) func(models.StatusEvent) bool {
	return func(ev models.StatusEvent) bool {
		p, ok := ev.Payload.(models.StagePayload)
		return ok && p.Stage == kind && p.State == state
	}
}

func isTaskState(status models.TaskStatus) func(models.StatusEvent) bool {
	return func(ev models.StatusEvent) bool {
		p, ok := ev.Payload.(models.TaskStatePayload)
		return ok && p.Status == status
	}
}

func isLog(msg string) func(models.StatusEvent) bool {
	return func(ev models.StatusEvent) bool {
		p, ok := ev.Payload.(models.LogPayload)
		return ok && p.Message == msg
	}
}

func isStatus(t models.EventType, status string) func(models.StatusEvent) bool {
	return func(ev models.StatusEvent) bool {
		return ev.Type == t && ev.StatusOf() == status
	}
}

// --- harness ---

type harness struct {
	cfg       *config.Config
	bus       *events.Bus
	rec       *recorder
	mgr       *hardware.Manager
	ptt       *hardware.SimulatedPTT
	providers *fakeProviders
	persist   *memPersister
	gateway   *ai.Gateway
	logger    *logrus.Logger
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := config.Default()
	cfg.Timing.PTTPreDelayMs = 0
	cfg.Timing.PTTPostDelayMs = 0
	cfg.Timing.TxHoldTimerS = 0
	cfg.Hardware.AcquireTimeoutMs = 200
	cfg.RadioEtiquette.Callsign = "BG7XYZ"

	bus := events.NewBus(4096)
	p := &fakeProviders{sttText: "", reply: "roger"}
	return &harness{
		cfg:       cfg,
		bus:       bus,
		rec:       newRecorder(t, bus),
		mgr:       hardware.NewManager(logger, bus),
		ptt:       hardware.NewSimulatedPTT(),
		providers: p,
		persist:   &memPersister{},
		gateway:   ai.NewGateway(ai.Providers{STT: p, TTS: p, Chat: p}, ai.Options{Timeout: time.Second}, bus, logger),
		logger:    logger,
	}
}

func (h *harness) newSession(t *testing.T, mode models.TaskMode, sink hardware.AudioSink, src hardware.AudioSource, clock Clock) *Session {
	t.Helper()
	now := time.Now().UTC()
	task := models.Task{
		ID:           "task-" + string(mode),
		Name:         models.TaskName(mode, "0001", now),
		Mode:         mode,
		Dir:          t.TempDir(),
		IsSimulation: mode.IsSimulation(),
		CreatedAt:    now,
	}
	return New(task, h.cfg, Deps{
		Gateway:   h.gateway,
		Hardware:  h.mgr,
		PTT:       h.ptt,
		Sink:      sink,
		Source:    src,
		Publisher: h.bus,
		Persister: h.persist,
		Logger:    h.logger,
		Clock:     clock,
	})
}

func runSession(t *testing.T, s *Session) <-chan error {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(context.Background()) }()
	t.Cleanup(func() {
		s.Stop()
		<-s.Done()
	})
	require.Eventually(t, func() bool {
		st := s.Status()
		return st == models.TaskStatusRunning || st == models.TaskStatusTerminated
	}, 5*time.Second, time.Millisecond)
	return errCh
}

func indexOf(t *testing.T, evs []models.StatusEvent, from int, match func(models.StatusEvent) bool) int {
	t.Helper()
	for i := from; i < len(evs); i++ {
		if match(evs[i]) {
			return i
		}
	}
	t.Fatalf("event not found after index %d", from)
	return -1
}

// --- tests ---

func TestSendTextScenario(t *testing.T) {
	h := newHarness(t)
	src := hardware.NewChannelSource(16000, time.Millisecond)
	s := h.newSession(t, models.ModeGeneralCommunication, hardware.NewPacedSink("", 16000), src, nil)
	errCh := runSession(t, s)
	require.Equal(t, models.TaskStatusRunning, s.Status())
	assert.Equal(t, s.ID(), h.mgr.Holder(models.LeaseAudioIn))

	require.NoError(t, s.SendText("hello"))
	h.rec.waitFor(t, isStage(models.StageTransmit, models.StageSucceeded))

	// The next transmission is inside the interval.
	var tooSoon *models.TooSoonError
	require.ErrorAs(t, s.SendText("again"), &tooSoon)
	assert.Greater(t, tooSoon.RetryAfterMs, int64(59000))

	s.Stop()
	s.Stop()
	require.NoError(t, <-errCh)
	assert.Equal(t, models.TaskStatusTerminated, s.Status())

	evs := h.rec.snapshot()
	i := indexOf(t, evs, 0, isStatus(models.EventTtsStatus, "Checking"))
	i = indexOf(t, evs, i, isStatus(models.EventTtsStatus, "Ok"))
	i = indexOf(t, evs, i, isStage(models.StageTransmit, models.StageRunning))
	i = indexOf(t, evs, i, isLog("PTT asserted"))
	i = indexOf(t, evs, i, isLog("PTT released"))
	i = indexOf(t, evs, i, isStage(models.StageTransmit, models.StageSucceeded))
	i = indexOf(t, evs, i, isTaskState(models.TaskStatusStopping))
	indexOf(t, evs, i, isTaskState(models.TaskStatusTerminated))

	assert.Equal(t, []string{"ElfRadio Operator (BG7XYZ): hello"}, h.providers.spoken())
	asserts, deasserts := h.ptt.Counts()
	assert.Equal(t, 1, asserts)
	assert.Equal(t, 1, deasserts)
	for _, k := range models.AllLeaseKinds {
		assert.Equal(t, "", h.mgr.Holder(k), "kind %s", k)
	}
	assert.Contains(t, h.persist.logs(models.DirectionOutgoing), "ElfRadio Operator (BG7XYZ): hello")
}

func TestTransmitCutOffAtMaxDuration(t *testing.T) {
	h := newHarness(t)
	h.cfg.Timing.MaxTxDurationS = 180
	clock := newFakeClock()
	sink := newBlockingSink()
	defer close(sink.release)

	s := h.newSession(t, models.ModeGeneralCommunication, sink, nil, clock)
	runSession(t, s)

	require.NoError(t, s.SendText("long over"))
	select {
	case <-sink.started:
	case <-time.After(5 * time.Second):
		t.Fatal("transmit never started")
	}
	require.Eventually(t, func() bool {
		for _, d := range clock.pending() {
			if d == 180*time.Second {
				return true
			}
		}
		return false
	}, 5*time.Second, time.Millisecond)
	assert.True(t, h.ptt.Keyed())

	clock.Advance(179 * time.Second)
	time.Sleep(10 * time.Millisecond)
	assert.True(t, h.ptt.Keyed(), "still keyed before the deadline")

	clock.Advance(time.Second)
	h.rec.waitFor(t, func(ev models.StatusEvent) bool {
		p, ok := ev.Payload.(models.StagePayload)
		return ok && p.Stage == models.StageTransmit && p.State == models.StageFailed && p.Reason == models.ReasonTimeout
	})
	assert.False(t, h.ptt.Keyed())
	assert.Equal(t, "", h.mgr.Holder(models.LeasePTT))
	assert.Equal(t, "", h.mgr.Holder(models.LeaseAudioOut))
	assert.Equal(t, models.TaskStatusRunning, s.Status(), "a timed-out transmit is not fatal")
}

func TestStopDuringTransmitUnkeysBeforeTerminated(t *testing.T) {
	h := newHarness(t)
	sink := newBlockingSink()
	defer close(sink.release)

	s := h.newSession(t, models.ModeGeneralCommunication, sink, nil, nil)
	errCh := runSession(t, s)

	require.NoError(t, s.SendText("going QRT"))
	select {
	case <-sink.started:
	case <-time.After(5 * time.Second):
		t.Fatal("transmit never started")
	}
	require.True(t, h.ptt.Keyed())
	assert.Equal(t, s.ID(), h.mgr.Holder(models.LeasePTT))
	assert.Equal(t, s.ID(), h.mgr.Holder(models.LeaseAudioOut))

	s.Stop()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("task did not terminate while audio was playing")
	}

	assert.False(t, h.ptt.Keyed())
	for _, k := range models.AllLeaseKinds {
		assert.Equal(t, "", h.mgr.Holder(k), "kind %s", k)
	}

	h.rec.waitFor(t, isTaskState(models.TaskStatusTerminated))
	evs := h.rec.snapshot()
	i := indexOf(t, evs, 0, isLog("PTT asserted"))
	i = indexOf(t, evs, i, isTaskState(models.TaskStatusStopping))
	i = indexOf(t, evs, i, isLog("PTT released"))
	i = indexOf(t, evs, i, isStage(models.StageTransmit, models.StageCancelled))
	indexOf(t, evs, i, isTaskState(models.TaskStatusTerminated))
}

func TestStopCancelsBlockedSynthesis(t *testing.T) {
	h := newHarness(t)
	h.providers.ttsStarted = make(chan struct{})
	h.providers.ttsErr = make(chan error, 1)
	h.gateway = ai.NewGateway(ai.Providers{STT: h.providers, TTS: h.providers, Chat: h.providers},
		ai.Options{Timeout: time.Hour}, h.bus, h.logger)

	s := h.newSession(t, models.ModeGeneralCommunication, hardware.NewPacedSink("", 16000), nil, nil)
	errCh := runSession(t, s)

	require.NoError(t, s.SendText("never spoken"))
	select {
	case <-h.providers.ttsStarted:
	case <-time.After(5 * time.Second):
		t.Fatal("synthesis never started")
	}

	s.Stop()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("task waited for the provider call")
	}
	assert.ErrorIs(t, <-h.providers.ttsErr, context.Canceled)
	assert.Equal(t, models.TaskStatusTerminated, s.Status())

	h.rec.waitFor(t, isStage(models.StageTextToSpeech, models.StageCancelled))
	for _, ev := range h.rec.snapshot() {
		assert.False(t, isStage(models.StageTransmit, models.StageRunning)(ev), "nothing was keyed")
	}
	asserts, _ := h.ptt.Counts()
	assert.Zero(t, asserts)
}

func TestIncomingStageFailureKeepsTaskRunning(t *testing.T) {
	h := newHarness(t)
	h.cfg.AISettings.AutoReply = true
	h.providers.sttErr = errors.New("recognizer rejected audio")

	src := hardware.NewChannelSource(16000, time.Millisecond)
	src.Push(hardware.BytesToSamples(hardware.GenerateTones([]int{600}, 300, 16000)))
	s := h.newSession(t, models.ModeGeneralCommunication, hardware.NewPacedSink("", 16000), src, nil)
	runSession(t, s)

	h.rec.waitFor(t, isStage(models.StageSpeechToText, models.StageFailed))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, models.TaskStatusRunning, s.Status())

	evs := h.rec.snapshot()
	indexOf(t, evs, 0, isStage(models.StageRecord, models.StageSucceeded))
	for _, ev := range evs {
		assert.False(t, isStage(models.StageTranslate, models.StageRunning)(ev))
		assert.False(t, isStage(models.StageLlmRespond, models.StageRunning)(ev))
		assert.False(t, isStage(models.StageTextToSpeech, models.StageRunning)(ev))
	}
	assert.Empty(t, h.providers.spoken())
}

func TestLeaseFailureTerminatesWithoutRunning(t *testing.T) {
	h := newHarness(t)
	h.cfg.Hardware.AcquireTimeoutMs = 20
	other, err := h.mgr.Acquire(context.Background(), models.LeaseSDR, "someone-else", 0)
	require.NoError(t, err)
	defer other.Release()

	s := h.newSession(t, models.ModeSatelliteCommunication, hardware.NewPacedSink("", 16000), nil, nil)
	err = s.Run(context.Background())
	assert.ErrorIs(t, err, models.ErrHardwareTimeout)
	assert.Equal(t, models.TaskStatusTerminated, s.Status())
	assert.Equal(t, "", h.mgr.Holder(models.LeaseAudioIn))

	h.rec.waitFor(t, isTaskState(models.TaskStatusTerminated))
	h.rec.waitFor(t, func(ev models.StatusEvent) bool {
		p, ok := ev.Payload.(models.LogPayload)
		return ok && p.Level == "error"
	})
	for _, ev := range h.rec.snapshot() {
		assert.False(t, isTaskState(models.TaskStatusRunning)(ev))
	}
}

func TestPTTFailureIsFatal(t *testing.T) {
	h := newHarness(t)
	h.ptt.AssertErr = errors.New("serial write failed")
	s := h.newSession(t, models.ModeEmergencyCommunication, hardware.NewPacedSink("", 16000), nil, nil)
	errCh := runSession(t, s)

	require.NoError(t, s.SendText("mayday"))
	err := <-errCh
	var de *models.DeviceError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, models.LeasePTT, de.Kind)
	assert.Equal(t, models.TaskStatusTerminated, s.Status())
	for _, k := range models.AllLeaseKinds {
		assert.Equal(t, "", h.mgr.Holder(k))
	}
}

func TestSendTextRejections(t *testing.T) {
	h := newHarness(t)
	s := h.newSession(t, models.ModeGeneralCommunication, hardware.NewPacedSink("", 16000), nil, nil)
	assert.ErrorIs(t, s.SendText("early"), models.ErrNotRunning)

	air := h.newSession(t, models.ModeAirbandListening, nil, nil, nil)
	runSession(t, air)
	assert.ErrorIs(t, air.SendText("tower"), models.ErrTransmitNotAllowed)
	assert.Equal(t, air.ID(), h.mgr.Holder(models.LeaseSDR))
	assert.Error(t, air.SendText("  "))
}

func TestIncomingPipelineAutoReply(t *testing.T) {
	h := newHarness(t)
	h.cfg.AISettings.AutoReply = true
	h.providers.sttText = "CQ CQ de BA1ABC"

	src := hardware.NewChannelSource(16000, time.Millisecond)
	src.Push(hardware.BytesToSamples(hardware.GenerateTones([]int{600}, 300, 16000)))
	s := h.newSession(t, models.ModeGeneralCommunication, hardware.NewPacedSink("", 16000), src, nil)
	runSession(t, s)

	h.rec.waitFor(t, isStage(models.StageTransmit, models.StageSucceeded))

	evs := h.rec.snapshot()
	i := indexOf(t, evs, 0, isStage(models.StageRecord, models.StageSucceeded))
	i = indexOf(t, evs, i, isStage(models.StageSpeechToText, models.StageSucceeded))
	i = indexOf(t, evs, i, isStage(models.StageLlmRespond, models.StageSucceeded))
	indexOf(t, evs, i, isStage(models.StageTextToSpeech, models.StageSucceeded))

	assert.Contains(t, h.persist.logs(models.DirectionIncoming), "CQ CQ de BA1ABC")
	assert.Equal(t, []string{"ElfRadio Operator (BG7XYZ): roger"}, h.providers.spoken())

	h.persist.mu.Lock()
	defer h.persist.mu.Unlock()
	var refs []string
	for _, r := range h.persist.recs {
		if r.Stage != nil && r.Stage.Stage == models.StageRecord {
			refs = r.Stage.ContentRefs
		}
	}
	assert.Equal(t, []string{"rx_0001.wav"}, refs)
}

func TestEndTaskPhraseStopsTask(t *testing.T) {
	h := newHarness(t)
	h.providers.sttText = "ok, stop task now please"

	src := hardware.NewChannelSource(16000, time.Millisecond)
	src.Push(hardware.BytesToSamples(hardware.GenerateTones([]int{600}, 200, 16000)))
	s := h.newSession(t, models.ModeGeneralCommunication, hardware.NewPacedSink("", 16000), src, nil)
	errCh := runSession(t, s)

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("task did not stop itself")
	}
	assert.Equal(t, models.TaskStatusTerminated, s.Status())
}

func TestPracticeSessionRepliesAsPartner(t *testing.T) {
	h := newHarness(t)
	h.providers.reply = "QSL, 59 here"
	s := h.newSession(t, models.ModeSimulatedQsoPractice, hardware.NewPacedSink("", 16000), nil, nil)
	runSession(t, s)

	require.NoError(t, s.SendText("CQ practice"))
	h.rec.waitFor(t, isStage(models.StageLlmRespond, models.StageSucceeded))
	assert.Eventually(t, func() bool {
		for _, l := range h.persist.logs(models.DirectionIncoming) {
			if l == "QSL, 59 here" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	// Practice never touches shared hardware.
	acquired, _ := h.mgr.Counts()
	assert.Zero(t, acquired)
}

func TestQueuePriorityOrder(t *testing.T) {
	q := newTxQueue()
	q.push(models.TxItem{ID: "a", Priority: models.PriorityNormal})
	q.push(models.TxItem{ID: "b", Priority: models.PriorityHigh})
	q.push(models.TxItem{ID: "c", Priority: models.PriorityNormal})
	q.push(models.TxItem{ID: "d", Priority: models.PriorityHigh})

	var got []string
	for i := 0; i < 4; i++ {
		item, err := q.pop(context.Background())
		require.NoError(t, err)
		got = append(got, item.ID)
	}
	assert.Equal(t, []string{"b", "d", "a", "c"}, got)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.pop(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAddressingInterval(t *testing.T) {
	h := newHarness(t)
	clock := newFakeClock()
	s := h.newSession(t, models.ModeGeneralCommunication, nil, nil, clock)

	assert.Equal(t, "ElfRadio Operator (BG7XYZ): one", s.address("one"))
	assert.Equal(t, "two", s.address("two"))
	clock.Advance(10 * time.Minute)
	assert.Equal(t, "ElfRadio Operator (BG7XYZ): three", s.address("three"))

	h.cfg.RadioEtiquette.Callsign = ""
	clock.Advance(10 * time.Minute)
	assert.Equal(t, "ElfRadio Operator: four", s.address("four"))
}

func TestRequiredLeases(t *testing.T) {
	assert.Equal(t, []models.LeaseKind{models.LeaseAudioIn}, RequiredLeases(models.ModeGeneralCommunication))
	assert.Equal(t, []models.LeaseKind{models.LeaseSDR}, RequiredLeases(models.ModeAirbandListening))
	assert.Equal(t, []models.LeaseKind{models.LeaseSDR, models.LeaseAudioIn}, RequiredLeases(models.ModeSatelliteCommunication))
	assert.Empty(t, RequiredLeases(models.ModeSimulatedQsoPractice))
}
