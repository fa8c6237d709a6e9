package db

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *DB {
	t.Helper()
	d, err := Open(filepath.Join(t.TempDir(), "store"), false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestUpdateCommitsAtomically(t *testing.T) {
	d := openTest(t)

	require.NoError(t, d.Update(func(tx *Tx) error {
		require.NoError(t, tx.Set("a:1", []byte("one")))
		require.NoError(t, tx.Set("a:2", []byte("two")))

		// reads see own writes
		v, err := tx.Get("a:1")
		require.NoError(t, err)
		assert.Equal(t, "one", string(v))
		return nil
	}))

	v, err := d.Get("a:2")
	require.NoError(t, err)
	assert.Equal(t, "two", string(v))
}

func TestUpdateErrorDiscardsWrites(t *testing.T) {
	d := openTest(t)
	boom := errors.New("boom")

	err := d.Update(func(tx *Tx) error {
		require.NoError(t, tx.Set("k", []byte("v")))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = d.Get("k")
	assert.True(t, IsNotFound(err))
}

func TestScanAndLastRespectPrefix(t *testing.T) {
	d := openTest(t)
	require.NoError(t, d.Update(func(tx *Tx) error {
		for _, k := range []string{"idx:a:1", "idx:a:2", "idx:a:3", "idx:b:1", "idx:a"} {
			if err := tx.Set(k, []byte(k)); err != nil {
				return err
			}
		}
		return nil
	}))

	var got []string
	require.NoError(t, d.View(func(r Reader) error {
		return r.Scan("idx:a:", func(k string, _ []byte) error {
			got = append(got, k)
			return nil
		})
	}))
	assert.Equal(t, []string{"idx:a:1", "idx:a:2", "idx:a:3"}, got)

	require.NoError(t, d.View(func(r Reader) error {
		k, v, ok, err := r.Last("idx:a:")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "idx:a:3", k)
		assert.Equal(t, "idx:a:3", string(v))

		_, _, ok, err = r.Last("idx:z:")
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	}))
}

func TestDeletePrefix(t *testing.T) {
	d := openTest(t)
	require.NoError(t, d.Update(func(tx *Tx) error {
		_ = tx.Set("fs:1:a", []byte("x"))
		_ = tx.Set("fs:1:b", []byte("x"))
		_ = tx.Set("fs:2:a", []byte("x"))
		return nil
	}))
	require.NoError(t, d.Update(func(tx *Tx) error { return tx.DeletePrefix("fs:1:") }))

	var left []string
	require.NoError(t, d.View(func(r Reader) error {
		return r.Scan("fs:", func(k string, _ []byte) error {
			left = append(left, k)
			return nil
		})
	}))
	assert.Equal(t, []string{"fs:2:a"}, left)
}

func TestPrefixUpperBound(t *testing.T) {
	assert.Equal(t, []byte("ab"), prefixUpperBound([]byte("aa")))
	assert.Equal(t, []byte("b"), prefixUpperBound([]byte{'a', 0xff}))
	assert.Nil(t, prefixUpperBound([]byte{0xff, 0xff}))
}
