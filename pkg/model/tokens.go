// Copyright 2025 Praxis Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package model

import (
	"sync"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/pkoukk/tiktoken-go"
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// EstimateTokens approximates the token count of text. Used when a
// provider does not report usage. Falls back to len/4 when the encoding
// cannot be loaded (e.g. offline).
func EstimateTokens(text string) int {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
	if encoding == nil {
		return len(text) / 4
	}
	return len(encoding.Encode(text, nil, nil))
}

// EstimateRequestTokens approximates the input token count of a request.
func EstimateRequestTokens(req *Request) int {
	if req == nil {
		return 0
	}
	total := EstimateTokens(req.SystemInstruction)
	for _, msg := range req.Messages {
		for _, part := range msg.Parts {
			if tp, ok := part.(a2a.TextPart); ok {
				total += EstimateTokens(tp.Text)
			}
		}
	}
	return total
}
