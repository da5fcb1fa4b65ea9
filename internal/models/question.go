package models

// Question 문제 풀에서 추출된 단일 문제. 추출 이후 불변.
type Question struct {
	Prompt     string     `json:"question"`
	Input1     string     `json:"input1"`
	Input2     string     `json:"input2"`
	Answer     string     `json:"answer"`
	Symbol     string     `json:"symbol"` // 콤마 구분 태그 (sum, difference, ...)
	Difficulty Difficulty `json:"difficulty"`
	Level      int        `json:"finalLevel"` // 고유 난이도 레벨 1-10
}
