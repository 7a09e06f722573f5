package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"studybuddy/db"
	"studybuddy/logger"
	"studybuddy/models"
	"studybuddy/services"
	"studybuddy/services/reminder"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

var (
	ErrRateLimited   = errors.New("too many chat requests")
	ErrEmptyMessages = errors.New("messages are required")
)

type ManagerConfig struct {
	Opener  db.Opener
	Service *Service
	Sources []ToolSource
	// Scheduler enables the reminder tool when set.
	Scheduler         *reminder.Scheduler
	ChatRatePerMinute int
}

// Manager maps routing ids to agent instances, creating them on first use.
type Manager struct {
	cfg ManagerConfig

	mu        sync.Mutex
	instances map[string]*Instance
	opening   singleflight.Group
}

func NewManager(cfg ManagerConfig) *Manager {
	return &Manager{
		cfg:       cfg,
		instances: map[string]*Instance{},
	}
}

func (m *Manager) Get(ctx context.Context, id string) (*Instance, error) {
	if id == "" {
		return nil, fmt.Errorf("instance id is required")
	}

	if inst, ok := m.lookup(id); ok {
		return inst, nil
	}

	// Partitions open outside the lock; concurrent first uses of one id share
	// a single open.
	v, err, _ := m.opening.Do(id, func() (any, error) {
		if inst, ok := m.lookup(id); ok {
			return inst, nil
		}
		return m.open(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Instance), nil
}

func (m *Manager) lookup(id string) (*Instance, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[id]
	return inst, ok
}

func (m *Manager) open(ctx context.Context, id string) (*Instance, error) {
	logger.Log.Infof("Starting agent instance %s", id)

	partition, err := m.cfg.Opener.Open(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to open partition for %s: %w", id, err)
	}
	if err := partition.EnsureSchema(ctx); err != nil {
		_ = partition.Close()
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.instances[id]; ok {
		_ = partition.Close()
		return existing, nil
	}

	inst := newInstance(id, partition, m.cfg)
	m.instances[id] = inst

	logger.Log.Infof("Successfully started agent instance %s", id)
	return inst, nil
}

// Cancel aborts in-flight turns of an existing instance. It reports whether
// the instance exists.
func (m *Manager) Cancel(id string) (int, bool) {
	m.mu.Lock()
	inst, ok := m.instances[id]
	m.mu.Unlock()

	if !ok {
		return 0, false
	}
	return inst.Cancel(), true
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for id, inst := range m.instances {
		inst.Cancel()
		if err := inst.partition.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", id, err))
		}
		delete(m.instances, id)
	}
	if err := m.cfg.Opener.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Instance is one conversational agent with its own storage partition.
type Instance struct {
	id        string
	partition *db.Partition
	study     *services.StudyService
	registry  *Registry
	service   *Service
	limiter   *rate.Limiter

	mu      sync.Mutex
	nextRun uint64
	cancels map[uint64]context.CancelFunc
}

func newInstance(id string, partition *db.Partition, cfg ManagerConfig) *Instance {
	inst := &Instance{
		id:        id,
		partition: partition,
		study:     services.NewStudyService(partition),
		service:   cfg.Service,
		limiter:   newLimiter(cfg.ChatRatePerMinute),
		cancels:   map[uint64]context.CancelFunc{},
	}

	static := StudyTools(inst.study)
	if cfg.Scheduler != nil {
		static = append(static, NewScheduleReminderTool(cfg.Scheduler, inst.deliverReminder))
	}
	inst.registry = NewRegistry(static, cfg.Sources...)

	return inst
}

func newLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
}

func (i *Instance) ID() string {
	return i.id
}

// Chat runs one turn over the client-supplied history and persists the
// finished message set as this instance's conversation history.
func (i *Instance) Chat(ctx context.Context, messages []models.AgentMessage, emit models.StreamCallback) (*models.AgentResponse, error) {
	if len(messages) == 0 {
		return nil, ErrEmptyMessages
	}
	if !i.limiter.Allow() {
		return nil, ErrRateLimited
	}

	ctx, done := i.track(ctx)
	defer done()

	return i.service.RunTurn(ctx, Turn{
		Messages: messages,
		Tools:    i.registry.Resolve(ctx),
		Emit:     emit,
		OnFinish: i.partition.SaveMessages,
	})
}

// Cancel aborts every in-flight turn and returns how many were running.
func (i *Instance) Cancel() int {
	i.mu.Lock()
	defer i.mu.Unlock()

	n := len(i.cancels)
	for key, cancel := range i.cancels {
		cancel()
		delete(i.cancels, key)
	}
	if n > 0 {
		logger.Log.Infof("Cancelled %d running turns on instance %s", n, i.id)
	}
	return n
}

func (i *Instance) track(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)

	i.mu.Lock()
	key := i.nextRun
	i.nextRun++
	i.cancels[key] = cancel
	i.mu.Unlock()

	return ctx, func() {
		i.mu.Lock()
		delete(i.cancels, key)
		i.mu.Unlock()
		cancel()
	}
}

func (i *Instance) Messages(ctx context.Context) ([]models.AgentMessage, error) {
	return i.partition.LoadMessages(ctx)
}

func (i *Instance) Stats(ctx context.Context, topic string) (*models.StudyStats, error) {
	return i.study.GetStats(ctx, topic)
}

func (i *Instance) deliverReminder(message string) {
	msg := models.AgentMessage{
		Role:      models.RoleAssistant,
		Content:   "Reminder: " + message,
		CreatedAt: time.Now().UTC(),
	}
	if err := i.partition.AppendMessage(context.Background(), msg); err != nil {
		logger.Log.Errorf("Failed to deliver reminder to instance %s: %v", i.id, err)
		return
	}
	logger.Log.Infof("Delivered reminder to instance %s", i.id)
}
