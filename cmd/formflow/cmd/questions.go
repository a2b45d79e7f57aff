package cmd

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const defaultRetries = 3

// Question is one entry of a questions file.
type Question struct {
	Question string `yaml:"question"`
	Answer   string `yaml:"answer"`
	// Exact requires the answer to equal the button's name. Unset, the
	// answer only needs to appear in it.
	Exact   *bool `yaml:"exact,omitempty"`
	Retries int   `yaml:"retries,omitempty"`
}

// IsExact applies the default.
func (q Question) IsExact() bool {
	return q.Exact != nil && *q.Exact
}

// QuestionFile is the YAML document read by `formflow answer`.
//
//	url: https://example.com/survey
//	questions:
//	  - question: What is your favorite color?
//	    answer: Blue
//	    exact: true
//	  - question: Do you own a car
//	    answer: "no"
//	    retries: 5
type QuestionFile struct {
	URL       string     `yaml:"url"`
	Questions []Question `yaml:"questions"`
}

// LoadQuestions reads and validates a questions file.
func LoadQuestions(path string) (*QuestionFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading questions file %s: %w", path, err)
	}
	return ParseQuestions(data)
}

// ParseQuestions decodes a questions document and fills in defaults.
func ParseQuestions(data []byte) (*QuestionFile, error) {
	var qf QuestionFile
	if err := yaml.Unmarshal(data, &qf); err != nil {
		return nil, fmt.Errorf("parsing questions: %w", err)
	}
	if len(qf.Questions) == 0 {
		return nil, errors.New("questions file lists no questions")
	}

	var errs []error
	for i := range qf.Questions {
		q := &qf.Questions[i]
		if q.Question == "" {
			errs = append(errs, fmt.Errorf("questions[%d]: question is empty", i))
		}
		if q.Answer == "" {
			errs = append(errs, fmt.Errorf("questions[%d]: answer is empty", i))
		}
		switch {
		case q.Retries < 0:
			errs = append(errs, fmt.Errorf("questions[%d]: retries must not be negative", i))
		case q.Retries == 0:
			q.Retries = defaultRetries
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &qf, nil
}
