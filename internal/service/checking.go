package service

import (
	"encoding/json"
	"sort"
	"strings"

	"edulearn_backend/internal/model"
)

// CheckResult 自动判分结果。Gradable 为 false 表示无法自动判分，转人工评审
type CheckResult struct {
	Gradable  bool
	IsCorrect bool
	Score     float64
	MaxScore  float64
}

// AnswerChecker 判分器。实现必须是纯函数，不访问数据库
type AnswerChecker interface {
	Check(task *model.Task, answer json.RawMessage) (CheckResult, error)
}

// RuleChecker 基于任务 solution_rules 的默认判分器。
// 单选/多选/简答可自动判分，主观题一律转人工
type RuleChecker struct{}

func NewRuleChecker() *RuleChecker {
	return &RuleChecker{}
}

type solutionRules struct {
	Correct       []string `json:"correct"`
	AcceptedTexts []string `json:"accepted_texts"`
	CaseSensitive bool     `json:"case_sensitive"`
	PartialCredit bool     `json:"partial_credit"`
}

type submittedAnswer struct {
	Selected []string `json:"selected"`
	Text     string   `json:"text"`
}

func (c *RuleChecker) Check(task *model.Task, answer json.RawMessage) (CheckResult, error) {
	maxScore := task.MaxScore
	if maxScore <= 0 {
		maxScore = 1
	}

	if task.Type == model.TaskTypeTextAnswer {
		return CheckResult{Gradable: false, MaxScore: maxScore}, nil
	}

	var rules solutionRules
	if task.SolutionRules == "" {
		return CheckResult{Gradable: false, MaxScore: maxScore}, nil
	}
	if err := json.Unmarshal([]byte(task.SolutionRules), &rules); err != nil {
		return CheckResult{}, err
	}

	var ans submittedAnswer
	if err := json.Unmarshal(answer, &ans); err != nil {
		return CheckResult{}, err
	}

	switch task.Type {
	case model.TaskTypeSingleChoice, model.TaskTypeMultiChoice:
		if len(rules.Correct) == 0 {
			return CheckResult{Gradable: false, MaxScore: maxScore}, nil
		}
		correct := equalSets(rules.Correct, ans.Selected)
		score := 0.0
		if correct {
			score = maxScore
		} else if rules.PartialCredit && task.Type == model.TaskTypeMultiChoice {
			score = partialScore(rules.Correct, ans.Selected, maxScore)
		}
		return CheckResult{Gradable: true, IsCorrect: correct, Score: score, MaxScore: maxScore}, nil

	case model.TaskTypeShortAnswer:
		if len(rules.AcceptedTexts) == 0 {
			return CheckResult{Gradable: false, MaxScore: maxScore}, nil
		}
		text := strings.TrimSpace(ans.Text)
		for _, accepted := range rules.AcceptedTexts {
			a := strings.TrimSpace(accepted)
			if rules.CaseSensitive && text == a {
				return CheckResult{Gradable: true, IsCorrect: true, Score: maxScore, MaxScore: maxScore}, nil
			}
			if !rules.CaseSensitive && strings.EqualFold(text, a) {
				return CheckResult{Gradable: true, IsCorrect: true, Score: maxScore, MaxScore: maxScore}, nil
			}
		}
		return CheckResult{Gradable: true, IsCorrect: false, Score: 0, MaxScore: maxScore}, nil
	}

	return CheckResult{Gradable: false, MaxScore: maxScore}, nil
}

func equalSets(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x := append([]string(nil), a...)
	y := append([]string(nil), b...)
	sort.Strings(x)
	sort.Strings(y)
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}

// partialScore 多选部分给分：命中比例扣除误选比例，下限 0
func partialScore(correct, selected []string, maxScore float64) float64 {
	set := make(map[string]bool, len(correct))
	for _, c := range correct {
		set[c] = true
	}
	hits, wrong := 0, 0
	for _, s := range selected {
		if set[s] {
			hits++
		} else {
			wrong++
		}
	}
	ratio := (float64(hits) - float64(wrong)) / float64(len(correct))
	if ratio < 0 {
		ratio = 0
	}
	return maxScore * ratio
}
