// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package tasks runs the librarian's background maintenance work: the
// integrity checker, the cloning tasks, the send queue consumer and
// checker, the transfer hypervisors, and rolling deletion. One scheduler
// goroutine runs every due task sequentially on each heartbeat, so tasks
// never race each other within a process; concurrency across processes
// is handled by the database (skip-locked queue reservation and
// short transactions keyed by primary key).
package tasks

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/librarian-project/librarian/config"
)

// Task is one unit of scheduled background work. Run performs a single
// tick's worth of work and returns; a task honoring its soft timeout
// checks the deadline between items and yields rather than overrun.
type Task interface {
	Name() string
	Run(gormDB *gorm.DB, deadline time.Time) error
}

// starts processing tasks against the given database, returning an
// informative error if anything prevents this
func Start(gormDB *gorm.DB) error {
	if running {
		return &AlreadyRunningError{}
	}

	schedule = buildSchedule()
	if len(schedule) == 0 {
		slog.Info("No background tasks are configured")
		return nil
	}

	taskChannels = channelsType{
		Poll: make(chan struct{}),
		Stop: make(chan struct{}),
		Done: make(chan struct{}),
	}

	// start processing tasks
	go processTasks(gormDB)

	// start the polling heartbeat
	slog.Info(fmt.Sprintf("Background tasks are polled every %d ms",
		config.Tasks.PollInterval))
	pollInterval := time.Duration(config.Tasks.PollInterval) * time.Millisecond
	go heartbeat(pollInterval, taskChannels.Poll)

	// okay, we're running now
	running = true

	return nil
}

// Stops processing tasks. A task in flight finishes its current tick.
func Stop() error {
	if !running {
		return &NotRunningError{}
	}
	taskChannels.Stop <- struct{}{}
	<-taskChannels.Done
	running = false
	return nil
}

// Returns true if tasks are currently being processed, false if not.
func Running() bool {
	return running
}

//-----------
// Internals
//-----------

var running bool              // true if tasks are processing, false if not
var taskChannels channelsType // channels used to drive the scheduler
var schedule []*scheduledTask // the current schedule

type channelsType struct {
	Poll chan struct{} // carries the heartbeat signal
	Stop chan struct{} // used by client to stop task processing
	Done chan struct{} // acknowledges a stop
}

// a task plus its scheduling state
type scheduledTask struct {
	task        Task
	period      time.Duration
	softTimeout time.Duration
	nextRun     time.Time
}

// assembles the schedule from the configuration
func buildSchedule() []*scheduledTask {
	var entries []*scheduledTask
	add := func(task Task, sched config.TaskSchedule) {
		period := time.Duration(sched.Period) * time.Second
		if period <= 0 {
			// run on every heartbeat
			period = time.Duration(config.Tasks.PollInterval) * time.Millisecond
		}
		entries = append(entries, &scheduledTask{
			task:        task,
			period:      period,
			softTimeout: time.Duration(sched.SoftTimeout) * time.Second,
		})
	}

	for _, conf := range config.Tasks.CheckIntegrity {
		add(NewCheckIntegrity(conf), conf.TaskSchedule)
	}
	for _, conf := range config.Tasks.CreateLocalClone {
		add(NewCreateLocalClone(conf), conf.TaskSchedule)
	}
	for _, conf := range config.Tasks.SendClone {
		add(NewSendClone(conf), conf.TaskSchedule)
	}
	for _, conf := range config.Tasks.ReceiveClone {
		add(NewReceiveClone(conf), conf.TaskSchedule)
	}
	if conf := config.Tasks.IncomingTransferHypervisor; conf != nil {
		add(NewIncomingTransferHypervisor(*conf), conf.TaskSchedule)
	}
	if conf := config.Tasks.OutgoingTransferHypervisor; conf != nil {
		add(NewOutgoingTransferHypervisor(*conf), conf.TaskSchedule)
	}
	if conf := config.Tasks.DuplicateRemoteInstanceHypervisor; conf != nil {
		add(NewDuplicateRemoteInstanceHypervisor(*conf), conf.TaskSchedule)
	}
	for _, conf := range config.Tasks.RollingDeletion {
		add(NewRollingDeletion(conf), conf.TaskSchedule)
	}
	if conf := config.Tasks.QueueConsumer; conf != nil {
		add(NewQueueConsumer(), conf.TaskSchedule)
	}
	if conf := config.Tasks.QueueChecker; conf != nil {
		add(NewQueueChecker(), conf.TaskSchedule)
	}
	return entries
}

// this function runs in its own goroutine, running every due task
// sequentially on each heartbeat
func processTasks(gormDB *gorm.DB) {
	for {
		select {
		case <-taskChannels.Poll:
			now := time.Now()
			remaining := schedule[:0]
			for _, entry := range schedule {
				if now.Before(entry.nextRun) {
					remaining = append(remaining, entry)
					continue
				}

				deadline := now.Add(entry.softTimeout)
				if entry.softTimeout <= 0 {
					// no budget configured; the period is the budget
					deadline = now.Add(entry.period)
				}
				err := entry.task.Run(gormDB, deadline)
				if errors.Is(err, ErrCancelTask) {
					slog.Info(fmt.Sprintf("Task %s: descheduled permanently",
						entry.task.Name()))
					continue
				}
				if err != nil {
					// task errors are logged but never stop the scheduler
					slog.Error(fmt.Sprintf("Task %s: %s", entry.task.Name(), err))
				}
				entry.nextRun = now.Add(entry.period)
				remaining = append(remaining, entry)
			}
			schedule = remaining
		case <-taskChannels.Stop:
			taskChannels.Done <- struct{}{}
			return
		}
	}
}

// this function sends a regular pulse on its poll channel until the
// global variable running is found to be false
func heartbeat(pollInterval time.Duration, pollChan chan<- struct{}) {
	for {
		time.Sleep(pollInterval)
		if !running {
			break
		}
		select {
		case pollChan <- struct{}{}:
		default: // the scheduler is still busy with the last pulse
		}
	}
}
