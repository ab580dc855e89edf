package ai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

const suggestedQuestionsSentinel = "SuggestedQuestions:"

const maxSuggestedQuestions = 3

// SheetPrompt builds the analysis prompt for a single balance sheet.
func SheetPrompt(companyName string, data json.RawMessage, question string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Company: %s\n", companyName)
	fmt.Fprintf(&sb, "Balance Sheet Data: %s\n\n", indentJSON(data))
	sb.WriteString("You are a financial analyst AI assistant. Analyze the balance sheet data and provide insights to help top management understand the company's financial performance.\n\n")
	sb.WriteString("Focus on:\n")
	sb.WriteString("- Key financial ratios and metrics\n")
	sb.WriteString("- Trends and patterns\n")
	sb.WriteString("- Risk assessment\n")
	sb.WriteString("- Recommendations for management\n")
	sb.WriteString("- Comparison with industry standards (if applicable)\n\n")
	sb.WriteString("Provide clear, actionable insights that would be valuable for top management decision-making.\n\n")
	appendQuestion(&sb, question)
	return sb.String()
}

// CompanyPrompt builds the multi-period analysis prompt. periods maps
// year -> quarter label ("1".."4" or "annual") -> raw sheet data.
func CompanyPrompt(companyName string, periods map[int]map[string]json.RawMessage, question string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Company: %s\n\n", companyName)
	sb.WriteString("You have access to COMPLETE financial data for this company across ALL available years and quarters:\n")
	encoded, _ := json.MarshalIndent(periods, "", "  ")
	sb.Write(encoded)
	sb.WriteString("\n\nThis data is organized by year and quarter, showing the company's financial evolution over time.\n\n")
	sb.WriteString("You are a senior financial analyst AI assistant. Provide comprehensive analysis using ALL available data:\n\n")
	sb.WriteString("Analysis Requirements:\n")
	sb.WriteString("1. Multi-Year Trends: Analyze how key metrics have changed over time\n")
	sb.WriteString("2. Quarterly Patterns: Identify seasonal patterns and quarterly performance\n")
	sb.WriteString("3. Growth Analysis: Calculate year-over-year and quarter-over-quarter growth rates\n")
	sb.WriteString("4. Financial Ratios: Compute and compare ratios across all periods\n")
	sb.WriteString("5. Risk Assessment: Identify trends in liquidity, solvency, and profitability\n")
	sb.WriteString("6. Strategic Insights: Provide actionable recommendations based on historical patterns\n")
	sb.WriteString("7. Performance Comparison: Compare different years and quarters\n\n")
	sb.WriteString("When analyzing, always reference specific years and quarters, and provide concrete numbers and percentages.\n\n")
	appendQuestion(&sb, question)
	return sb.String()
}

// InsightsPrompt builds the standing insights summary for a company.
func InsightsPrompt(companyName string, periods map[int]map[string]json.RawMessage) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Company: %s\n\n", companyName)
	sb.WriteString("You have access to COMPLETE financial data for this company across ALL available years and quarters:\n")
	encoded, _ := json.MarshalIndent(periods, "", "  ")
	sb.Write(encoded)
	sb.WriteString("\n\nProvide a comprehensive summary of key insights for top management using ALL available data:\n\n")
	sb.WriteString("1. Multi-Year Financial Health Overview: Analyze trends across all years\n")
	sb.WriteString("2. Key Performance Indicators: Calculate and compare ratios across all periods\n")
	sb.WriteString("3. Growth Trajectory: Identify year-over-year and quarter-over-quarter patterns\n")
	sb.WriteString("4. Risk Assessment: Identify potential concerns based on historical trends\n")
	sb.WriteString("5. Strategic Opportunities: Highlight opportunities based on performance patterns\n")
	sb.WriteString("6. Quick Recommendations: Provide actionable insights for management\n\n")
	sb.WriteString("Reference specific years and quarters when making comparisons. Keep it comprehensive but concise.\n")
	return sb.String()
}

func appendQuestion(sb *strings.Builder, question string) {
	fmt.Fprintf(sb, "User Question: %s\n\n", question)
	sb.WriteString("Please provide a comprehensive analysis using ALL available data. Include specific numbers, ratios, percentages, and actionable insights. Reference specific years and quarters when making comparisons.\n\n")
	sb.WriteString("At the end of your answer, output a JSON array of up to 3 suggested follow-up questions, like this:\n")
	sb.WriteString(`SuggestedQuestions: ["What is the trend in revenue?", "How does the debt-to-equity ratio compare to last year?", "What are the main risks for this company?"]` + "\n")
	sb.WriteString("Do not add any explanation or text after the array.\n")
}

func indentJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}

// ParseSuggestedQuestions splits a model response into the answer body
// and the trailing follow-up questions. A missing or malformed sentinel
// yields the whole response and no questions.
func ParseSuggestedQuestions(response string) (answer string, questions []string) {
	idx := strings.LastIndex(response, suggestedQuestionsSentinel)
	if idx < 0 {
		return strings.TrimSpace(response), nil
	}
	tail := strings.TrimSpace(response[idx+len(suggestedQuestionsSentinel):])
	var parsed []string
	if err := json.Unmarshal([]byte(tail), &parsed); err != nil {
		return strings.TrimSpace(response), nil
	}
	if len(parsed) > maxSuggestedQuestions {
		parsed = parsed[:maxSuggestedQuestions]
	}
	return strings.TrimSpace(response[:idx]), parsed
}
