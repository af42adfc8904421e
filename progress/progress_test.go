package progress

import (
	"sync"
	"testing"

	"github.com/openpacs/go-dicomnet/dimse"
	"github.com/stretchr/testify/assert"
)

func TestCountersFromResponse(t *testing.T) {
	p := New()
	p.SetCounts(dimse.SubOperationCounts{Remaining: 5, Completed: 2, Failed: 1, Warning: 1})
	assert.Equal(t, 5, p.Remaining())
	assert.Equal(t, 2, p.Completed())
	assert.Equal(t, 1, p.Failed())
	assert.Equal(t, 1, p.Warning())

	// remaining = total - (completed + failed + warning)
	total := 9
	assert.Equal(t, p.Remaining(), total-(p.Completed()+p.Failed()+p.Warning()))
}

func TestIncrementsAreConcurrencySafe(t *testing.T) {
	p := New()
	p.SetRemaining(300)
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				p.IncrementCompleted()
				p.DecrementRemaining()
				p.AddTotalSize(10)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 300, p.Completed())
	assert.Equal(t, 0, p.Remaining())
	assert.Equal(t, int64(3000), p.TotalSize())
}

func TestListenerCancelsCooperatively(t *testing.T) {
	p := New()
	calls := 0
	p.AddListener(func(p *Progress) {
		calls++
		if p.Completed() >= 2 {
			p.Cancel()
		}
	})
	for i := 0; i < 3 && !p.IsCancelled(); i++ {
		p.IncrementCompleted()
		p.Notify()
	}
	assert.Equal(t, 2, calls)
	assert.True(t, p.IsCancelled())
}

func TestProcessedPath(t *testing.T) {
	p := New()
	assert.Empty(t, p.ProcessedPath())
	p.SetProcessedPath("/data/a.dcm")
	assert.Equal(t, "/data/a.dcm", p.ProcessedPath())
}

func TestState(t *testing.T) {
	st := NewState()
	assert.Equal(t, int(dimse.StatusPending), st.Status())
	st.SetStatus(0xB000)
	st.SetMessage("coerced")
	assert.Equal(t, 0xB000, st.Status())
	assert.Equal(t, "coerced", st.Message())
	assert.NotNil(t, st.Progress())

	p := New()
	st2 := NewStateWith(p)
	assert.Same(t, p, st2.Progress())
}
