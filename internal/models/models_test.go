package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestSyncStatusValid(t *testing.T) {
	valid := []SyncStatus{StatusSynced, StatusPendingCreate, StatusPendingUpdate, StatusPendingDelete}
	for _, s := range valid {
		if !s.Valid() {
			t.Errorf("%q should be valid", s)
		}
	}
	for _, s := range []SyncStatus{"", "half_synced", "SYNCED"} {
		if s.Valid() {
			t.Errorf("%q should be invalid", s)
		}
	}
}

func TestSyncStatusPending(t *testing.T) {
	if StatusSynced.Pending() {
		t.Error("synced is not pending")
	}
	if !StatusPendingDelete.Pending() {
		t.Error("pending_delete is pending")
	}
	if SyncStatus("garbage").Pending() {
		t.Error("invalid status is never pending")
	}
}

func TestOperationValid(t *testing.T) {
	for _, op := range []Operation{OpCreate, OpUpdate, OpDelete} {
		if !op.Valid() {
			t.Errorf("%q should be valid", op)
		}
	}
	if Operation("upsert").Valid() {
		t.Error("unknown operation accepted")
	}
}

func TestQueueEntryReady(t *testing.T) {
	now := time.Now()
	e := &QueueEntry{NextAttemptAt: now.Unix()}
	if !e.Ready(now) {
		t.Error("gate at now should be ready")
	}
	e.NextAttemptAt = now.Add(time.Hour).Unix()
	if e.Ready(now) {
		t.Error("future gate should not be ready")
	}
}

func TestRecordClone(t *testing.T) {
	rec := &EntityRecord{
		LocalID: "a",
		Payload: json.RawMessage(`{"title":"x"}`),
	}
	cp := rec.Clone()
	cp.Payload[2] = 'X'
	if string(rec.Payload) != `{"title":"x"}` {
		t.Error("clone must not share payload backing array")
	}
}

func TestTaskRoundTrip(t *testing.T) {
	payload, err := (&Task{Title: "t", Notes: "n", Done: true}).Marshal()
	if err != nil {
		t.Fatal(err)
	}
	rec := &EntityRecord{Payload: payload}
	task, err := rec.Task()
	if err != nil {
		t.Fatal(err)
	}
	if task.Title != "t" || task.Notes != "n" || !task.Done {
		t.Errorf("unexpected task %+v", task)
	}
}
