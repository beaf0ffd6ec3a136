package reconcile

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vinchx/chitchat/pkg/model"
)

func TestBadgerCacheRoundTrip(t *testing.T) {
	req := require.New(t)
	dir := t.TempDir()

	c, err := OpenBadgerCache(dir, 3)
	req.NoError(err)

	got, err := c.Load("R")
	req.NoError(err)
	req.Nil(got)

	var msgs []model.Message
	for i := 1; i <= 5; i++ {
		msgs = append(msgs, msg(fmt.Sprintf("msg%d", i), "bob", "m", t0))
	}
	req.NoError(c.Save("R", msgs))
	req.NoError(c.Close())

	// The snapshot survives reopening and keeps only the newest entries.
	c, err = OpenBadgerCache(dir, 3)
	req.NoError(err)
	t.Cleanup(func() { _ = c.Close() })

	got, err = c.Load("R")
	req.NoError(err)
	req.Len(got, 3)
	req.Equal([]string{"msg3", "msg4", "msg5"}, []string{got[0].ID, got[1].ID, got[2].ID})

	other, err := c.Load("G")
	req.NoError(err)
	req.Empty(other)
}

func TestSeedFromCache(t *testing.T) {
	req := require.New(t)
	c, err := OpenBadgerCache("", 0)
	req.NoError(err)
	t.Cleanup(func() { _ = c.Close() })

	v := NewView("R", "alice")
	v.Apply(created(msg("msg1", "bob", "a", t0)))
	v.Apply(created(msg("msg2", "alice", "b", t0)))
	v.Submit("pending", nil, nil)
	req.NoError(c.Save(v.RoomID(), v.Messages()))

	cached, err := c.Load("R")
	req.NoError(err)
	req.Len(cached, 2)

	fresh := NewView("R", "alice")
	req.Equal(2, fresh.Seed(cached))
	req.Equal([]string{"msg1", "msg2"}, ids(fresh.Snapshot()))
}
