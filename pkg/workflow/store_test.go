package workflow

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_ConcurrentUpdates(t *testing.T) {
	s := NewStore(nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Update(func(g *Graph) error {
				g.AddNode(KindPrompt, 0, 0)
				return nil
			})
		}()
	}
	wg.Wait()

	var n int
	s.View(func(g *Graph) { n = g.Len() })
	assert.Equal(t, 50, n)
}

func TestStore_SnapshotAndReplace(t *testing.T) {
	s := NewStore(Default())
	snap := s.Snapshot()
	require.NoError(t, s.Update(func(g *Graph) error {
		g.RemoveNode(1)
		return nil
	}))
	assert.Equal(t, 2, snap.Len())

	require.NoError(t, s.Replace(snap))
	s.View(func(g *Graph) { assert.Equal(t, 2, g.Len()) })

	err := s.Update(func(g *Graph) error {
		_, err := g.AddConnection(1, 1)
		return err
	})
	assert.ErrorIs(t, err, ErrSelfConnection)
}

func TestStore_ReplaceRefusedWhileExecuting(t *testing.T) {
	g := Default()
	require.NoError(t, g.SetOutput(1, "hi"))
	s := NewStore(g)

	var x *Execution
	require.NoError(t, s.Update(func(g *Graph) error {
		var err error
		x, err = g.BeginExecution(2)
		return err
	}))
	assert.ErrorIs(t, s.Replace(New()), ErrAlreadyExecuting)
	s.View(func(g *Graph) { assert.Equal(t, 2, g.Len()) })

	require.NoError(t, s.Update(func(g *Graph) error {
		g.FinishExecution(x, nil)
		return nil
	}))
	require.NoError(t, s.Replace(New()))
	s.View(func(g *Graph) { assert.Equal(t, 0, g.Len()) })
}
