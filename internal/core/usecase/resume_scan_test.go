package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/aawaheed/datashare/internal/core/domain"
)

func TestResumeScanEnqueuesEveryHitOnceThenStops(t *testing.T) {
	cursor := &cursorFake{
		total: 3,
		pages: [][]domain.DocumentHit{hits("d1", "d2"), hits("d3")},
	}
	queue := &queueFake{}
	uc := NewResumeScanUseCase(&indexerFake{cursors: []*cursorFake{cursor}}, queue)

	total, err := uc.Run(context.Background(), "local-datashare", "CORENLP")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if total != 3 {
		t.Fatalf("expected total 3, got %d", total)
	}
	want := []string{"d1", "d2", "d3"}
	if len(queue.put) != len(want) {
		t.Fatalf("expected %d enqueued ids, got %v", len(want), queue.put)
	}
	for i, id := range want {
		if queue.put[i] != id {
			t.Fatalf("enqueued[%d] = %q, want %q", i, queue.put[i], id)
		}
	}
	if !cursor.closed {
		t.Fatalf("cursor must be closed after exhaustion")
	}
}

func TestResumeScanAfterAllProcessedEnqueuesNothing(t *testing.T) {
	cursor := &cursorFake{total: 0}
	queue := &queueFake{}
	uc := NewResumeScanUseCase(&indexerFake{cursors: []*cursorFake{cursor}}, queue)

	total, err := uc.Run(context.Background(), "local-datashare", "CORENLP")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if total != 0 || len(queue.put) != 0 {
		t.Fatalf("expected empty rerun, got total=%d enqueued=%v", total, queue.put)
	}
}

func TestResumeScanClosesCursorOnPageError(t *testing.T) {
	cursor := &cursorFake{total: 5, nextErr: errors.New("scroll expired")}
	uc := NewResumeScanUseCase(&indexerFake{cursors: []*cursorFake{cursor}}, &queueFake{})

	_, err := uc.Run(context.Background(), "local-datashare", "CORENLP")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !cursor.closed {
		t.Fatalf("cursor must be closed on the error path")
	}
}

func TestResumeScanAbortsOnEnqueueError(t *testing.T) {
	cursor := &cursorFake{
		total: 2,
		pages: [][]domain.DocumentHit{hits("d1", "d2")},
	}
	queue := &queueFake{err: errors.New("queue unavailable")}
	uc := NewResumeScanUseCase(&indexerFake{cursors: []*cursorFake{cursor}}, queue)

	if _, err := uc.Run(context.Background(), "local-datashare", "CORENLP"); err == nil {
		t.Fatalf("expected error")
	}
	if !cursor.closed {
		t.Fatalf("cursor must be closed on the enqueue error path")
	}
}

func TestResumeScanStopsBetweenPagesOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cursor := &cursorFake{
		total: 4,
		pages: [][]domain.DocumentHit{hits("d1", "d2"), hits("d3", "d4")},
	}
	queue := &queueFake{}
	uc := NewResumeScanUseCase(&indexerFake{cursors: []*cursorFake{cursor}}, queue)

	// Cancel as soon as the first page is enqueued.
	queue.onPut = func() { cancel() }

	_, err := uc.Run(ctx, "local-datashare", "CORENLP")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(queue.put) != 2 {
		t.Fatalf("only the first page must be enqueued, got %v", queue.put)
	}
	if !cursor.closed {
		t.Fatalf("cursor must be closed after cancellation")
	}
}
