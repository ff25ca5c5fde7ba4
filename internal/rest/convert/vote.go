package convert

import (
	"github.com/robalyx/answervote/internal/rest/types"
	"github.com/robalyx/answervote/internal/vote"
)

// VoteResult converts an aggregator result to its REST form.
func VoteResult(result *vote.Result) types.VoteResponse {
	return types.VoteResponse{
		Upvotes:   result.Counters.Upvotes,
		Downvotes: result.Counters.Downvotes,
		Action:    result.Action.String(),
		Previous:  result.Previous.String(),
		Changed:   result.Changed(),
	}
}

// Answer converts answer counters to their REST form. The action is left
// empty when the caller is anonymous.
func Answer(counters *vote.Counters, action *vote.Action) types.AnswerResponse {
	response := types.AnswerResponse{
		QuestionID: counters.QuestionID,
		AnswerID:   counters.AnswerID,
		Upvotes:    counters.Upvotes,
		Downvotes:  counters.Downvotes,
		Score:      counters.Upvotes - counters.Downvotes,
		UpdatedAt:  counters.UpdatedAt,
	}
	if action != nil {
		response.Action = action.String()
	}
	return response
}
