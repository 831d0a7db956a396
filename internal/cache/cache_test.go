/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) Cache {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client)
}

func TestSet(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	err := c.Set(ctx, "testKey", "testValue", 10*time.Minute)
	assert.NoError(t, err)

	err = c.Set(ctx, "testKey", "testValue", 0)
	assert.NoError(t, err)
}

func TestGet(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	setValue := map[string]string{"entity_id": "cus_123"}
	require.NoError(t, c.Set(ctx, "entity:customer:john doe", setValue, 10*time.Minute))

	var getValue map[string]string
	found, err := c.Get(ctx, "entity:customer:john doe", &getValue)
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, setValue, getValue)
}

func TestGetNonExistentKey(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	var getValue map[string]string
	found, err := c.Get(ctx, "nonExistentKey", &getValue)
	assert.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, getValue)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	require.NoError(t, c.Set(ctx, "testKey", "testValue", 10*time.Minute))
	require.NoError(t, c.Delete(ctx, "testKey"))

	var got string
	found, err := c.Get(ctx, "testKey", &got)
	assert.NoError(t, err)
	assert.False(t, found)

	assert.NoError(t, c.Delete(ctx, "neverSet"))
}
