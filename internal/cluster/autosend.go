package cluster

import (
	"KafkaScope/internal/logger"
	kafkaclient "KafkaScope/pkg/kafka"
	"context"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"sort"
	"sync"
	"time"
)

// AutosendRequest describes a record published repeatedly
type AutosendRequest struct {
	Topic    string
	Key      []byte
	Value    []byte
	Headers  []kafkaclient.Header
	Interval time.Duration
	Duration time.Duration
}

// AutosendInfo describes a running auto-publisher
type AutosendInfo struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	Interval  string    `json:"interval"`
	StartedAt time.Time `json:"started_at"`
	EndsAt    time.Time `json:"ends_at"`
	Sent      int64     `json:"sent"`
	Failed    int64     `json:"failed"`
}

type autosendTask struct {
	info   AutosendInfo
	cancel context.CancelFunc
	done   chan struct{}
}

// autosender runs the auto-publishers of one session
type autosender struct {
	producer sender
	tasks    map[string]*autosendTask
	mu       sync.Mutex
	log      zerolog.Logger
}

func newAutosender(producer sender) *autosender {
	return &autosender{
		producer: producer,
		tasks:    make(map[string]*autosendTask),
		log:      logger.WithComponent("autosend"),
	}
}

func (a *autosender) start(req AutosendRequest) string {
	ctx, cancel := context.WithTimeout(context.Background(), req.Duration)
	now := time.Now()

	task := &autosendTask{
		info: AutosendInfo{
			ID:        uuid.NewString(),
			Topic:     req.Topic,
			Interval:  req.Interval.String(),
			StartedAt: now,
			EndsAt:    now.Add(req.Duration),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}

	a.mu.Lock()
	a.tasks[task.info.ID] = task
	a.mu.Unlock()

	go a.run(ctx, task, req)
	return task.info.ID
}

func (a *autosender) run(ctx context.Context, task *autosendTask, req AutosendRequest) {
	defer func() {
		task.cancel()
		a.mu.Lock()
		delete(a.tasks, task.info.ID)
		a.mu.Unlock()
		close(task.done)
	}()

	ticker := time.NewTicker(req.Interval)
	defer ticker.Stop()

	for {
		_, err := a.producer.Send(ctx, req.Topic, req.Key, req.Value, req.Headers)

		// a send cut short by the end of the run is not a failure
		failed := err != nil && ctx.Err() == nil

		a.mu.Lock()
		if err == nil {
			task.info.Sent++
		} else if failed {
			task.info.Failed++
		}
		a.mu.Unlock()

		if failed {
			a.log.Warn().Err(err).Str("id", task.info.ID).Str("topic", req.Topic).Msg("autosend delivery failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (a *autosender) stop(id string) bool {
	a.mu.Lock()
	task, ok := a.tasks[id]
	a.mu.Unlock()
	if !ok {
		return false
	}

	task.cancel()
	<-task.done
	return true
}

func (a *autosender) stopAll() {
	a.mu.Lock()
	tasks := make([]*autosendTask, 0, len(a.tasks))
	for _, task := range a.tasks {
		tasks = append(tasks, task)
	}
	a.mu.Unlock()

	for _, task := range tasks {
		task.cancel()
		<-task.done
	}
}

func (a *autosender) list() []AutosendInfo {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]AutosendInfo, 0, len(a.tasks))
	for _, task := range a.tasks {
		out = append(out, task.info)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}
