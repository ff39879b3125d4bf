/*
 *	Copyright 2026 The symtrace Authors
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

package sets

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSet(t *testing.T) {
	s := MakeWith("b", "a", "c")
	require.Equal(t, 3, s.Len())
	require.True(t, s.Has("a"))
	require.False(t, s.Has("z"))

	s.Insert("z")
	require.True(t, s.Has("z"))

	s.Delete("b")
	require.False(t, s.Has("b"))
	require.Equal(t, []string{"a", "c", "z"}, Sorted(s))

	empty := Make[int]()
	require.Equal(t, 0, empty.Len())
	require.Empty(t, Sorted(empty))
}
