package domain

import "strings"

// TeaserIssueLimit сколько примеров проблем показываем в teaser
const TeaserIssueLimit = 5

// SeverityCounts количество проблем по серьезности
type SeverityCounts struct {
	Critical int `json:"critical"`
	Serious  int `json:"serious"`
	Moderate int `json:"moderate"`
	Minor    int `json:"minor"`
}

// Summary агрегированная сводка результата
type Summary struct {
	Total          int            `json:"total"`
	Passes         int            `json:"passes"`
	SeverityCounts SeverityCounts `json:"severityCounts"`
}

// TeaserIssue пример проблемы без HTML элемента
type TeaserIssue struct {
	RuleID      string `json:"ruleId"`
	Impact      Impact `json:"impact"`
	Description string `json:"description"`
	Source      string `json:"source"`
}

// Teaser урезанный результат для anon/free
type Teaser struct {
	Summary Summary       `json:"summary"`
	Issues  []TeaserIssue `json:"issues"`
	Hidden  int           `json:"hidden"`
}

// RiskLevel уровень риска по найденным нарушениям
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Risk оценка риска
type Risk struct {
	Level RiskLevel `json:"level"`
	Score int       `json:"score"`
}

// Summarize считает сводку по результату
func Summarize(r ScanResult) Summary {
	s := Summary{Passes: r.Passes}
	for _, v := range r.Violations {
		n := len(v.Nodes)
		if n == 0 {
			n = 1
		}
		switch v.Impact {
		case ImpactCritical:
			s.SeverityCounts.Critical += n
		case ImpactSerious:
			s.SeverityCounts.Serious += n
		case ImpactModerate:
			s.SeverityCounts.Moderate += n
		default:
			s.SeverityCounts.Minor += n
		}
		s.Total += n
	}
	return s
}

// BuildTeaser строит teaser: сводка и первые TeaserIssueLimit проблем с селектором, без HTML.
func BuildTeaser(r ScanResult) Teaser {
	t := Teaser{Summary: Summarize(r), Issues: make([]TeaserIssue, 0, TeaserIssueLimit)}

outer:
	for _, v := range r.Violations {
		nodes := v.Nodes
		if len(nodes) == 0 {
			nodes = []ViolationNode{{}}
		}
		for _, n := range nodes {
			if len(t.Issues) == TeaserIssueLimit {
				break outer
			}
			t.Issues = append(t.Issues, TeaserIssue{
				RuleID:      v.ID,
				Impact:      v.Impact,
				Description: v.Help,
				Source:      strings.Join(n.Target, " "),
			})
		}
	}
	t.Hidden = t.Summary.Total - len(t.Issues)
	return t
}

// AssessRisk взвешенная оценка: critical 10, serious 5, moderate 2, minor 1, максимум 100.
func AssessRisk(s Summary) Risk {
	c := s.SeverityCounts
	score := c.Critical*10 + c.Serious*5 + c.Moderate*2 + c.Minor
	if score > 100 {
		score = 100
	}

	level := RiskLow
	switch {
	case c.Critical > 0 || score >= 50:
		level = RiskHigh
	case score >= 15:
		level = RiskMedium
	}
	return Risk{Level: level, Score: score}
}
