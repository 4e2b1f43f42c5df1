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

package cache

import (
	"context"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/suite"
)

type baseTestSuite struct {
	suite.Suite
	Database
}

func (suite *baseTestSuite) TearDownSuite() {
	err := suite.Database.Close()
	suite.NoError(err)
}

func (suite *baseTestSuite) SetupTest() {
	err := suite.Database.Ping()
	suite.NoError(err)
	err = suite.Database.Purge()
	suite.NoError(err)
}

func (suite *baseTestSuite) TestValues() {
	ctx := context.Background()
	err := suite.Database.Set(ctx, "alice", Key("alice", "8", "10"), []byte("hello"), time.Hour)
	suite.NoError(err)
	value, err := suite.Database.Get(ctx, Key("alice", "8", "10"))
	suite.NoError(err)
	suite.Equal([]byte("hello"), value)
	// overwrite
	err = suite.Database.Set(ctx, "alice", Key("alice", "8", "10"), []byte("world"), time.Hour)
	suite.NoError(err)
	value, err = suite.Database.Get(ctx, Key("alice", "8", "10"))
	suite.NoError(err)
	suite.Equal([]byte("world"), value)
	// delete
	err = suite.Database.Delete(ctx, Key("alice", "8", "10"))
	suite.NoError(err)
	_, err = suite.Database.Get(ctx, Key("alice", "8", "10"))
	suite.True(errors.Is(err, errors.NotFound), err)
	// missing
	_, err = suite.Database.Get(ctx, "unknown")
	suite.True(errors.Is(err, errors.NotFound), err)
}

func (suite *baseTestSuite) TestDeleteGroup() {
	ctx := context.Background()
	for _, name := range []string{Key("alice", "8", "10"), Key("alice", "16", "10"), Key("alice", "8", "1000")} {
		err := suite.Database.Set(ctx, "alice", name, []byte(name), time.Hour)
		suite.NoError(err)
	}
	err := suite.Database.Set(ctx, "bob", Key("bob", "8", "10"), []byte("bob"), 30*time.Minute)
	suite.NoError(err)
	// delete group
	err = suite.Database.DeleteGroup(ctx, "alice")
	suite.NoError(err)
	for _, name := range []string{Key("alice", "8", "10"), Key("alice", "16", "10"), Key("alice", "8", "1000")} {
		_, err = suite.Database.Get(ctx, name)
		suite.True(errors.Is(err, errors.NotFound), name)
	}
	value, err := suite.Database.Get(ctx, Key("bob", "8", "10"))
	suite.NoError(err)
	suite.Equal([]byte("bob"), value)
	// delete empty group
	err = suite.Database.DeleteGroup(ctx, "carol")
	suite.NoError(err)
	// group is usable after deletion
	err = suite.Database.Set(ctx, "alice", Key("alice", "8", "10"), []byte("again"), time.Hour)
	suite.NoError(err)
	value, err = suite.Database.Get(ctx, Key("alice", "8", "10"))
	suite.NoError(err)
	suite.Equal([]byte("again"), value)
}

func (suite *baseTestSuite) TestPurge() {
	ctx := context.Background()
	err := suite.Database.Set(ctx, "alice", "a", []byte("a"), time.Hour)
	suite.NoError(err)
	err = suite.Database.Purge()
	suite.NoError(err)
	_, err = suite.Database.Get(ctx, "a")
	suite.True(errors.Is(err, errors.NotFound), err)
}
