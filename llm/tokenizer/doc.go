// Copyright (c) AskFlow Authors.
// Licensed under the MIT License.

/*
Package tokenizer estimates token counts for prompts and completions.

The gateway records token usage in metrics and in ask results even when a
provider omits usage from its response. ForModel picks the best counter for
a model name: tiktoken BPE counting for the OpenAI family, a CJK-aware
character estimator for everything else. Counting never fails; a tiktoken
encoding that cannot be loaded degrades to the estimator.

EstimateUsage is the one-call form:

	usage := tokenizer.EstimateUsage(model, messages, completionText)
*/
package tokenizer
