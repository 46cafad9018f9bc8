/*
Copyright (c) Facebook, Inc. and its affiliates.

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

package tick

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSourceMonotonic(t *testing.T) {
	s := NewSource()
	t1 := s.Now()
	time.Sleep(time.Millisecond)
	t2 := s.Now()
	assert.LessOrEqual(t, int64(t1), int64(t2))
}

func TestManualSourceAdvance(t *testing.T) {
	m := NewManualSource()
	assert.Equal(t, Tick(0), m.Now())

	m.Advance(500 * time.Millisecond)
	assert.Equal(t, Tick(500*time.Millisecond), m.Now())

	m.Advance(time.Second)
	assert.Equal(t, Tick(1500*time.Millisecond), m.Now())
}

func TestTickSub(t *testing.T) {
	a := Tick(0)
	b := Tick(time.Second)
	assert.Equal(t, time.Second, b.Sub(a))
	assert.Equal(t, -time.Second, a.Sub(b))
}

func TestManualSourceSince(t *testing.T) {
	m := NewManualSource()
	start := m.Now()
	m.Advance(2 * time.Second)
	assert.Equal(t, 2*time.Second, m.Since(start))
}
