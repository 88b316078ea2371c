package errors

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// Failure is the most recent failure of one task.
type Failure struct {
	Task      string    `json:"task"`
	Type      ErrorType `json:"type"`
	Message   string    `json:"message"`
	FilePath  string    `json:"file,omitempty"`
	Line      int       `json:"line,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Collector remembers the last failure per task. A later success clears it.
type Collector struct {
	failures map[string]Failure
	mutex    sync.RWMutex
}

// NewCollector creates a new error collector
func NewCollector() *Collector {
	return &Collector{failures: make(map[string]Failure)}
}

// Record stores err as the current failure of task, or clears the task's
// failure when err is nil.
func (c *Collector) Record(task string, err error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if err == nil {
		delete(c.failures, task)
		return
	}

	f := Failure{
		Task:      task,
		Type:      TypeOf(err),
		Message:   err.Error(),
		Timestamp: time.Now(),
	}
	var te *TaskError
	if errors.As(err, &te) {
		f.FilePath = te.FilePath
		f.Line = te.Line
	}
	c.failures[task] = f
}

// Failures returns the current failures sorted by task name.
func (c *Collector) Failures() []Failure {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	result := make([]Failure, 0, len(c.failures))
	for _, f := range c.failures {
		result = append(result, f)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Task < result[j].Task })
	return result
}

// HasFailures returns true if any task is currently failing
func (c *Collector) HasFailures() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.failures) > 0
}

// Clear clears all failures
func (c *Collector) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.failures = make(map[string]Failure)
}
