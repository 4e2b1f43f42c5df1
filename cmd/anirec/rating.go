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

package main

import (
	"fmt"
	"strconv"

	"github.com/gorse-io/anirec/base"
	"github.com/gorse-io/anirec/base/log"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rateCommand = &cobra.Command{
	Use:   "rate <user> <item> <rating>",
	Short: "Create or update a rating",
	Args:  cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		userId, itemId := args[0], args[1]
		if err := base.ValidateId(userId); err != nil {
			log.Logger().Fatal("invalid user id", zap.Error(err))
		}
		value, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			log.Logger().Fatal("invalid rating", zap.String("rating", args[2]), zap.Error(err))
		}
		s := openStores(cmd)
		defer s.Close()
		if _, err = s.data.GetItem(cmd.Context(), itemId); err != nil {
			log.Logger().Fatal("failed to find anime", zap.String("item_id", itemId), zap.Error(err))
		}
		if err = s.engine().SubmitRating(cmd.Context(), userId, itemId, value); err != nil {
			log.Logger().Fatal("failed to rate", zap.String("user_id", userId), zap.String("item_id", itemId), zap.Error(err))
		}
		log.Logger().Info("rate anime", zap.String("user_id", userId), zap.String("item_id", itemId), zap.Float64("rating", value))
	},
}

var unrateCommand = &cobra.Command{
	Use:   "unrate <user> <item>",
	Short: "Delete a rating",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		userId, itemId := args[0], args[1]
		s := openStores(cmd)
		defer s.Close()
		deleted, err := s.engine().DeleteRating(cmd.Context(), userId, itemId)
		if err != nil {
			log.Logger().Fatal("failed to delete rating", zap.String("user_id", userId), zap.String("item_id", itemId), zap.Error(err))
		}
		if !deleted {
			fmt.Printf("%s has not rated %s.\n", userId, itemId)
		}
	},
}

var countCommand = &cobra.Command{
	Use:   "count <user>",
	Short: "Count the ratings of a user",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		userId := args[0]
		s := openStores(cmd)
		defer s.Close()
		count, err := s.engine().RatingCount(cmd.Context(), userId)
		if err != nil {
			log.Logger().Fatal("failed to count ratings", zap.String("user_id", userId), zap.Error(err))
		}
		fmt.Println(ratingCountMessage(userId, count, s.config.Recommend.MinRatings))
	},
}

// ratingCountMessage tells how many more ratings unlock personalized recommendations.
func ratingCountMessage(userId string, count, minRatings int) string {
	message := fmt.Sprintf("%s has rated %d anime.", userId, count)
	if remaining := minRatings - count; remaining > 0 {
		return message + fmt.Sprintf(" Rate %d more to unlock personalized recommendations.", remaining)
	}
	return message + " Personalized recommendations are available."
}

var invalidateCommand = &cobra.Command{
	Use:   "invalidate <user>...",
	Short: "Drop cached recommendations of users",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		s := openStores(cmd)
		defer s.Close()
		if err := invalidate(cmd.Context(), s.engine(), args); err != nil {
			log.Logger().Fatal("failed to invalidate cache", zap.Error(err))
		}
	},
}

func init() {
	rootCommand.AddCommand(rateCommand)
	rootCommand.AddCommand(unrateCommand)
	rootCommand.AddCommand(countCommand)
	rootCommand.AddCommand(invalidateCommand)
}
