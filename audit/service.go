package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/kasuganosora/parley/server/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	queueSize     = 1024
	batchSize     = 100
	flushInterval = 2 * time.Second
)

// Entry is one audited action.
type Entry struct {
	TraceID  string
	ActorID  int64
	TargetID int64
	Action   string
	Request  interface{}
	Response interface{}
	Err      error
	IP       string
	Duration time.Duration
}

// Service writes audit entries asynchronously in batches.
// A nil *Service is valid and discards everything.
type Service struct {
	db       *gorm.DB
	ch       chan *model.AuditLog
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	logger   *zap.Logger
}

// New creates a new audit Service and starts its background worker.
func New(db *gorm.DB, logger *zap.Logger) *Service {
	svc := &Service{
		db:     db,
		ch:     make(chan *model.AuditLog, queueSize),
		stopCh: make(chan struct{}),
		logger: logger,
	}
	svc.wg.Add(1)
	go svc.worker()
	return svc
}

// Log enqueues an entry. It never blocks; entries are dropped when the queue is full.
func (svc *Service) Log(e Entry) {
	if svc == nil {
		return
	}
	record := &model.AuditLog{
		TraceID:    e.TraceID,
		ActorID:    optionalID(e.ActorID),
		TargetID:   optionalID(e.TargetID),
		Action:     e.Action,
		Request:    toJSON(e.Request),
		Response:   toJSON(e.Response),
		IP:         e.IP,
		DurationMs: int(e.Duration.Milliseconds()),
	}
	if e.Err != nil {
		record.Error = e.Err.Error()
	}
	select {
	case svc.ch <- record:
	default:
		svc.logger.Warn("audit queue full, dropping entry", zap.String("action", e.Action))
	}
}

// Stop flushes queued entries and waits for the worker to exit.
func (svc *Service) Stop(_ context.Context) {
	if svc == nil {
		return
	}
	svc.stopOnce.Do(func() { close(svc.stopCh) })
	svc.wg.Wait()
}

func (svc *Service) worker() {
	defer svc.wg.Done()
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]*model.AuditLog, 0, batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := svc.db.Create(&batch).Error; err != nil {
			svc.logger.Error("audit batch write failed", zap.Int("size", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case rec := <-svc.ch:
			batch = append(batch, rec)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-svc.stopCh:
			for {
				select {
				case rec := <-svc.ch:
					batch = append(batch, rec)
				default:
					flush()
					return
				}
			}
		}
	}
}

type ctxKey struct{}

// WithTrace attaches request metadata that Log entries built from ctx pick up.
func WithTrace(ctx context.Context, traceID, ip string) context.Context {
	return context.WithValue(ctx, ctxKey{}, [2]string{traceID, ip})
}

// TraceFrom returns the trace id and client ip stored by WithTrace.
func TraceFrom(ctx context.Context) (traceID, ip string) {
	if v, ok := ctx.Value(ctxKey{}).([2]string); ok {
		return v[0], v[1]
	}
	return "", ""
}

func optionalID(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}

func toJSON(v interface{}) datatypes.JSON {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

// Prune deletes entries created before cutoff and returns how many were removed.
func (svc *Service) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	if svc == nil {
		return 0, nil
	}
	res := svc.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&model.AuditLog{})
	return res.RowsAffected, res.Error
}
