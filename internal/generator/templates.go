package generator

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/ai-agency/agency/internal/models"
)

const templateModel = "template"

var chatReplies = map[string][]string{
	"general": {
		"Hello! How can I help you today?",
		"I am here to help with all of your technical needs.",
		"I can help you build websites, find jobs and automate tasks.",
	},
	"technical": {
		"Based on your technical question, here is the suggested solution...",
		"This is a common programming problem. It can be solved in the following ways...",
	},
	"business": {
		"From a business perspective, I recommend the following...",
		"This is an important strategic decision. Let me help you analyse it...",
	},
}

var codeTemplates = map[string]string{
	"javascript": "// %s\nfunction solution() {\n  // generated code\n  console.log('Hello from the generated code!');\n}\n",
	"python":     "# %s\ndef solution():\n    # generated code\n    print('Hello from the generated code!')\n",
	"html":       "<!-- %s -->\n<div class=\"generated-content\">\n  <h1>Generated content</h1>\n</div>\n",
	"css":        "/* %s */\n.generated-content {\n  display: flex;\n  gap: 1rem;\n}\n",
	"react":      "// %s\nexport default function Solution() {\n  return <div className=\"generated-content\">Hello from the generated component!</div>;\n}\n",
	"nodejs":     "// %s\nconst http = require('http');\n\nhttp.createServer((req, res) => {\n  res.end('Hello from the generated server!');\n}).listen(3000);\n",
	"php":        "<?php\n// %s\nfunction solution() {\n    echo 'Hello from the generated code!';\n}\n",
}

// CodeLanguages lists the languages the code generator has templates for.
var CodeLanguages = []string{"javascript", "python", "html", "css", "react", "nodejs", "php"}

// Templates produces deterministic-shape answers without calling a model.
// Randomness is drawn from an injected source so tests can pin it.
type Templates struct {
	mu      sync.Mutex
	rnd     *rand.Rand
	now     func() time.Time
	latency time.Duration
}

func NewTemplates(rnd *rand.Rand, latency time.Duration) *Templates {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Templates{rnd: rnd, now: time.Now, latency: latency}
}

// Register installs the template generators for every type they handle.
func (t *Templates) Register(r *Registry) {
	r.Register(models.TypeChat, Func(t.Chat))
	r.Register(models.TypeFileAnalysis, Func(t.AnalyzeFile))
	r.Register(models.TypeCodeGeneration, Func(t.GenerateCode))
	r.Register(models.TypeJobSearch, Func(t.SearchJobs))
}

func (t *Templates) intn(n int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rnd.Intn(n)
}

func (t *Templates) float() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rnd.Float64()
}

type ChatOutput struct {
	Message       string   `json:"message"`
	Type          string   `json:"type"`
	Confidence    float64  `json:"confidence"`
	Suggestions   []string `json:"suggestions"`
	RelatedTopics []string `json:"relatedTopics"`
}

func (t *Templates) Chat(ctx context.Context, req *models.AIRequest) (*Result, error) {
	var in ChatInput
	if err := decodeInput(req, &in); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Message) == "" {
		return nil, fmt.Errorf("%w: message is required", ErrInvalidInput)
	}
	if err := sleep(ctx, t.latency); err != nil {
		return nil, err
	}

	replies, ok := chatReplies[in.Type]
	if !ok {
		replies = chatReplies["general"]
	}
	out := ChatOutput{
		Message:       replies[t.intn(len(replies))],
		Type:          "text",
		Confidence:    0.95,
		Suggestions:   []string{"Build a website", "Find a job", "Automate tasks", "Analyse data"},
		RelatedTopics: []string{"Web development", "Artificial intelligence", "Project management"},
	}
	return &Result{Output: out, Usage: estimateUsage(in.Message, out.Message)}, nil
}

type FileAnalysisOutput struct {
	Summary         string           `json:"summary"`
	Type            string           `json:"type"`
	Insights        []string         `json:"insights"`
	Recommendations []string         `json:"recommendations"`
	Metadata        FileMetadataInfo `json:"metadata"`
}

type FileMetadataInfo struct {
	Size        int64     `json:"size"`
	Type        string    `json:"type"`
	ProcessedAt time.Time `json:"processedAt"`
}

func (t *Templates) AnalyzeFile(ctx context.Context, req *models.AIRequest) (*Result, error) {
	var in FileInput
	if err := decodeInput(req, &in); err != nil {
		return nil, err
	}
	if in.FileName == "" {
		return nil, fmt.Errorf("%w: fileName is required", ErrInvalidInput)
	}
	if err := sleep(ctx, t.latency); err != nil {
		return nil, err
	}

	analysis := in.AnalysisType
	if analysis == "" {
		analysis = "general"
	}
	out := FileAnalysisOutput{
		Summary: fmt.Sprintf("File %s was analysed successfully", in.FileName),
		Type:    analysis,
		Insights: []string{
			"The file contains structured data",
			"Data quality is high",
			"No obvious errors were found",
		},
		Recommendations: []string{
			"This data can be used for advanced analysis",
			"Additional data cleaning is recommended",
		},
		Metadata: FileMetadataInfo{
			Size:        in.Size,
			Type:        in.MimeType,
			ProcessedAt: t.now().UTC(),
		},
	}
	return &Result{Output: out, Usage: estimateUsage(in.FileName, out.Summary)}, nil
}

type CodeOutput struct {
	Code        string   `json:"code"`
	Explanation string   `json:"explanation"`
	Language    string   `json:"language"`
	Framework   string   `json:"framework,omitempty"`
	Complexity  string   `json:"complexity,omitempty"`
	Suggestions []string `json:"suggestions"`
}

func (t *Templates) GenerateCode(ctx context.Context, req *models.AIRequest) (*Result, error) {
	var in CodeInput
	if err := decodeInput(req, &in); err != nil {
		return nil, err
	}
	tmpl, ok := codeTemplates[in.Language]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported language %q", ErrInvalidInput, in.Language)
	}
	if err := sleep(ctx, t.latency); err != nil {
		return nil, err
	}

	complexity := in.Complexity
	if complexity == "" {
		complexity = "simple"
	}
	out := CodeOutput{
		Code:        fmt.Sprintf(tmpl, oneLine(in.Description)),
		Explanation: "This code was generated automatically from the description: " + in.Description,
		Language:    in.Language,
		Framework:   in.Framework,
		Complexity:  complexity,
		Suggestions: []string{
			"Performance can be improved by adding caching",
			"Add error handling",
			"Add unit tests",
		},
	}
	return &Result{Output: out, Usage: estimateUsage(in.Description, out.Code)}, nil
}

type Job struct {
	Title        string    `json:"title"`
	Company      string    `json:"company"`
	Location     string    `json:"location"`
	Salary       string    `json:"salary"`
	Experience   string    `json:"experience"`
	Type         string    `json:"type,omitempty"`
	Description  string    `json:"description"`
	Requirements []string  `json:"requirements"`
	PostedDate   time.Time `json:"postedDate"`
}

type JobSearchOutput struct {
	Jobs  []Job `json:"jobs"`
	Total int   `json:"total"`
}

func (t *Templates) SearchJobs(ctx context.Context, req *models.AIRequest) (*Result, error) {
	var in JobSearchInput
	if err := decodeInput(req, &in); err != nil {
		return nil, err
	}
	kw := strings.TrimSpace(in.Keywords)
	if kw == "" {
		return nil, fmt.Errorf("%w: keywords are required", ErrInvalidInput)
	}
	if err := sleep(ctx, t.latency); err != nil {
		return nil, err
	}

	now := t.now().UTC()
	jobs := []Job{
		{
			Title:       kw + " Developer",
			Company:     "Advanced Technology Co.",
			Location:    orDefault(in.Location, "Riyadh"),
			Salary:      "8000 - 12000 SAR",
			Experience:  orDefault(in.Experience, "mid"),
			Type:        in.JobType,
			Description: "We are looking for a developer specialised in " + kw,
			Requirements: []string{
				"Experience with " + kw,
				"Good communication skills",
				"Able to work in a team",
			},
			PostedDate: now.Add(-time.Duration(t.float() * float64(7*24*time.Hour))),
		},
		{
			Title:       kw + " Specialist",
			Company:     "Innovation Foundation",
			Location:    orDefault(in.Location, "Jeddah"),
			Salary:      "6000 - 10000 SAR",
			Experience:  orDefault(in.Experience, "junior"),
			Type:        in.JobType,
			Description: "An excellent opportunity to work in " + kw,
			Requirements: []string{
				"Basic knowledge of " + kw,
				"A relevant university degree",
				"Eagerness to learn",
			},
			PostedDate: now.Add(-time.Duration(t.float() * float64(14*24*time.Hour))),
		},
	}
	return &Result{
		Output: JobSearchOutput{Jobs: jobs, Total: len(jobs)},
		Usage:  estimateUsage(kw, jobs[0].Description, jobs[1].Description),
	}, nil
}

// estimateUsage approximates token counts by whitespace separated words.
func estimateUsage(texts ...string) models.Usage {
	n := 0
	for _, s := range texts {
		n += len(strings.Fields(s))
	}
	return models.Usage{TokensUsed: n, ModelUsed: templateModel}
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
