// Copyright 2026 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package recommend

import (
	"strconv"

	"github.com/gorse-io/anirec/storage/cache"
)

const cachePrefix = "recommend"

// CacheKey identifies a cached recommendation list. The minimum predicted rating is not
// part of the key.
type CacheKey struct {
	UserId     string
	NumFactors int
	TopN       int
}

func (k CacheKey) String() string {
	return cache.Key(cachePrefix, k.UserId, strconv.Itoa(k.NumFactors), strconv.Itoa(k.TopN))
}

// Group is shared by all keys of a user so that they are invalidated together.
func (k CacheKey) Group() string {
	return UserGroup(k.UserId)
}

func UserGroup(userId string) string {
	return cache.Key(cachePrefix, userId)
}
