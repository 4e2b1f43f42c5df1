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
	"os"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/gorse-io/anirec/base/log"
	"github.com/gorse-io/anirec/recommend"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var recommendCommand = &cobra.Command{
	Use:   "recommend <user>",
	Short: "Show the recommendations of a user",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		userId := args[0]
		s := openStores(cmd)
		defer s.Close()
		engine := s.engine()
		params := engine.Params()
		if cmd.Flags().Changed("top-n") {
			params.TopN, _ = cmd.Flags().GetInt("top-n")
		}
		if cmd.Flags().Changed("factors") {
			params.NumFactors, _ = cmd.Flags().GetInt("factors")
		}
		if cmd.Flags().Changed("min-predicted") {
			params.MinPredicted, _ = cmd.Flags().GetFloat64("min-predicted")
		}

		if explain, _ := cmd.Flags().GetBool("explain"); explain {
			explanation, err := engine.Explain(cmd.Context(), userId, params.NumFactors)
			if err != nil {
				log.Logger().Fatal("failed to explain recommendations", zap.Error(err))
			}
			printExplanation(userId, explanation)
		}

		recommendations, err := engine.Recommend(cmd.Context(), userId, params)
		if err != nil {
			log.Logger().Fatal("failed to recommend", zap.String("user_id", userId), zap.Error(err))
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			if err = encoder.Encode(recommendations); err != nil {
				log.Logger().Fatal("failed to encode recommendations", zap.Error(err))
			}
			return
		}
		if len(recommendations) == 0 {
			fmt.Println("No recommendations.")
			return
		}
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Rank", "Item", "Title", "Genres", "Predicted", "Confidence")
		for _, r := range recommendations {
			title := lo.Ternary(r.Item.Title != "", r.Item.Title, r.Item.NormalizedTitle)
			if err = table.Append(
				strconv.Itoa(r.Rank),
				r.Item.ItemId,
				title,
				strings.Join(r.Genres, ", "),
				strconv.FormatFloat(r.PredictedRating, 'f', 2, 64),
				r.Confidence,
			); err != nil {
				log.Logger().Fatal("failed to render table", zap.Error(err))
			}
		}
		if err = table.Render(); err != nil {
			log.Logger().Fatal("failed to render table", zap.Error(err))
		}
	},
}

func printExplanation(userId string, explanation *recommend.Explanation) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Statistic", "Value")
	rows := [][]string{
		{"users", strconv.Itoa(explanation.Users)},
		{"titles", strconv.Itoa(explanation.Titles)},
		{"sparsity", strconv.FormatFloat(explanation.Sparsity, 'f', 4, 64)},
		{"ratings of " + userId, strconv.Itoa(explanation.UserRatings)},
		{"mean of " + userId, strconv.FormatFloat(explanation.UserMean, 'f', 2, 64)},
		{"rank", strconv.Itoa(explanation.Rank)},
		{"singular values", strings.Join(lo.Map(lo.Slice(explanation.SingularValues, 0, 5), func(v float64, _ int) string {
			return strconv.FormatFloat(v, 'f', 3, 64)
		}), " ")},
		{"fallback", lo.Ternary(explanation.Fallback != "", explanation.Fallback, "none")},
	}
	for _, row := range rows {
		if err := table.Append(row); err != nil {
			log.Logger().Fatal("failed to render table", zap.Error(err))
		}
	}
	if err := table.Render(); err != nil {
		log.Logger().Fatal("failed to render table", zap.Error(err))
	}
}

func init() {
	rootCommand.AddCommand(recommendCommand)
	recommendCommand.Flags().Int("top-n", 0, "number of recommendations (default from config)")
	recommendCommand.Flags().Int("factors", 0, "number of latent factors (default from config)")
	recommendCommand.Flags().Float64("min-predicted", 0, "minimum predicted rating (default from config)")
	recommendCommand.Flags().Bool("explain", false, "show statistics of the rating matrix")
	recommendCommand.Flags().Bool("json", false, "print recommendations as JSON")
}
