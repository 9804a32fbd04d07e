package llm

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/tc-validator/backend/pkg/logger"
)

const testCaseSystemPrompt = `You are a Quality Assurance Engineer. Your task is to generate comprehensive test cases for the given requirements.

Guidelines:
1. Cover positive, negative and boundary/edge cases wherever applicable.
2. Keep sentences concise and self-contained.
3. Do not skip generic test cases that may be required for security, risk or permission checks.
4. Do NOT include sections like "Test Steps", "Preconditions" or "Expected Result".
5. Output must be ONLY a numbered list (1., 2., 3., ...).
6. Group test cases ONLY under the following three sections and in this exact order:
   - Positive
   - Negative
   - Boundary
7. Requirement type (Functional, Business, Technical, Security, Data, Non-Functional) MUST NOT be used for grouping.

Example:
Requirements:
Additional Driver Age Validation
Restrictions in the NBL Application

Test cases:
Positive
1. Verify that the system allows creation of an additional driver when the entered age is 18 or above.
2. Verify that clicking the Reset button allows the user to re-enter valid data.

Negative
1. Verify that the system blocks additional driver creation when the entered age is below 18.
2. Verify that the system displays the error message "Applicant Age not in Range" when the entered age is below 18.

Boundary
1. Verify that the system allows additional driver creation when the entered age is exactly 18.
2. Verify that the system blocks additional driver creation when the entered age is exactly 17.`

// GenerateTestCases asks the model for Positive, Negative and Boundary test
// cases covering requirements, which are newline separated.
func (c *Client) GenerateTestCases(ctx context.Context, category, requirements string) (string, error) {
	if strings.TrimSpace(requirements) == "" {
		return "", nil
	}

	userPrompt := fmt.Sprintf("Requirement category: %s\n\nRequirements:\n%s", category, requirements)

	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: testCaseSystemPrompt,
		UserPrompt:   userPrompt,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate test cases for %s: %w", category, err)
	}

	logger.Info("Test cases generated",
		zap.String("category", category),
		zap.Int("response_length", len(resp.Content)),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
	)

	return resp.Content, nil
}
