package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultProject ResultType = "project"
	ResultStep    ResultType = "step"
	ResultSubtask ResultType = "subtask"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type      ResultType `json:"type"`
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Snippet   string     `json:"snippet"`
	ProjectID string     `json:"projectId"`
}

// Query describes a search request. ProjectIDs scopes results to the
// projects the caller may read; an empty list yields no results.
type Query struct {
	Text       string
	FilterType ResultType // empty = all types
	ProjectIDs []string
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexProject(p ProjectRecord) error
	IndexStep(s StepRecord) error
	IndexSubtask(s SubtaskRecord) error
	DeleteProject(id string) error
	DeleteStep(id string) error
	DeleteSubtask(id string) error
}

// ProjectRecord is the data we index for a project.
type ProjectRecord struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ProjectID   string `json:"projectId"` // own ID, kept for uniform scoping filters
}

// StepRecord is the data we index for a step.
type StepRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	ProjectID   string `json:"projectId"`
}

// SubtaskRecord is the data we index for a subtask.
type SubtaskRecord struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	StepID    string `json:"stepId"`
	ProjectID string `json:"projectId"`
}
