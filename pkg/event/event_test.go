package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarySubscriberReceivesStatusAndDone(t *testing.T) {
	b := New()
	ch := b.Subscribe("t1", Summary)

	b.Publish(Event{TaskID: "t1", Kind: KindStatus, Visibility: Summary, State: StateWorking})
	b.Publish(Event{TaskID: "t1", Kind: KindMessage, Visibility: Detail, Message: "iteration 1"})
	b.Publish(Event{TaskID: "t1", Kind: KindDone, Visibility: Summary, FinalState: StateCompleted})

	got := drain(t, ch, 2)
	assert.Equal(t, KindStatus, got[0].Kind)
	assert.Equal(t, KindDone, got[1].Kind)
}

func TestDetailSubscriberReceivesMoreThanSummary(t *testing.T) {
	b := New()
	ch := b.Subscribe("t2", Detail)

	b.Publish(Event{TaskID: "t2", Kind: KindStatus, Visibility: Summary})
	b.Publish(Event{TaskID: "t2", Kind: KindMessage, Visibility: Detail, Message: "iter"})

	got := drain(t, ch, 2)
	assert.Len(t, got, 2)
}

func TestFullSubscriberReceivesEverything(t *testing.T) {
	b := New()
	ch := b.Subscribe("t3", Full)

	b.Publish(Event{TaskID: "t3", Kind: KindStatus, Visibility: Summary})
	b.Publish(Event{TaskID: "t3", Kind: KindMessage, Visibility: Detail})
	b.Publish(Event{TaskID: "t3", Kind: KindMessage, Visibility: Full})

	got := drain(t, ch, 3)
	assert.Len(t, got, 3)
}

func TestDifferentTaskIDsDoNotInterleave(t *testing.T) {
	b := New()
	chA := b.Subscribe("a", Full)
	chB := b.Subscribe("b", Full)

	b.Publish(Event{TaskID: "a", Kind: KindStatus, Visibility: Summary})
	b.Publish(Event{TaskID: "b", Kind: KindStatus, Visibility: Summary})

	gotA := drain(t, chA, 1)
	gotB := drain(t, chB, 1)
	assert.Equal(t, "a", gotA[0].TaskID)
	assert.Equal(t, "b", gotB[0].TaskID)
}

func TestSummaryDropsOnFullBuffer(t *testing.T) {
	b := New()
	ch := b.Subscribe("t4", Summary)

	for i := 0; i < bufferSize+10; i++ {
		b.Publish(Event{TaskID: "t4", Kind: KindStatus, Visibility: Summary})
	}

	count := 0
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
			count++
		default:
			assert.LessOrEqual(t, count, bufferSize)
			return
		}
	}
}

func TestCloseTaskClosesChannel(t *testing.T) {
	b := New()
	ch := b.Subscribe("t5", Summary)
	b.CloseTask("t5")

	_, ok := <-ch
	assert.False(t, ok)
}

func drain(t *testing.T, ch <-chan Event, n int) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(time.Second)
	for len(out) < n {
		select {
		case e := <-ch:
			out = append(out, e)
		case <-timeout:
			require.FailNow(t, "timed out waiting for events")
		}
	}
	return out
}
