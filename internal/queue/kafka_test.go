package queue

import (
	"errors"
	"testing"
)

func TestOffsetTracker_CommitsInFetchOrder(t *testing.T) {
	tr := newOffsetTracker()
	tr.fetched(0, 10)
	tr.fetched(0, 11)
	tr.fetched(1, 3)

	if err := tr.check(0, 11); !errors.Is(err, ErrCommitOutOfOrder) {
		t.Fatalf("check(0, 11) = %v, want ErrCommitOutOfOrder", err)
	}
	if err := tr.check(1, 3); err != nil {
		t.Errorf("other partitions are independent: %v", err)
	}

	if err := tr.check(0, 10); err != nil {
		t.Fatalf("check(0, 10) error = %v", err)
	}
	tr.committed(0, 10)
	if err := tr.check(0, 11); err != nil {
		t.Errorf("check(0, 11) after committing 10: %v", err)
	}
	tr.committed(0, 11)
	if _, ok := tr.pending[0]; ok {
		t.Error("partition 0 should have nothing pending")
	}
}

func TestOffsetTracker_UnknownOffsetAllowed(t *testing.T) {
	tr := newOffsetTracker()
	if err := tr.check(2, 99); err != nil {
		t.Errorf("nothing fetched on partition 2, got %v", err)
	}
}

func TestEnsureTopicNeedsBrokers(t *testing.T) {
	if _, err := EnsureTopic(nil, "aqi.alerts", 1, 1); err == nil {
		t.Error("expected error without brokers")
	}
}
