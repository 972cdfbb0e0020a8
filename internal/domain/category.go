package domain

// Category is the classifier's verdict for a response blob.
type Category string

const (
	CategoryError   Category = "ERROR"
	CategoryEcho    Category = "ECHO"
	CategoryCode    Category = "CODE"
	CategoryJSON    Category = "JSON"
	CategoryUnknown Category = "UNKNOWN"
)

// SystemSnapshot is the INFO: payload.
type SystemSnapshot struct {
	Host      string   `json:"host"`
	OS        string   `json:"os"`
	Arch      string   `json:"arch"`
	Runtime   string   `json:"runtime"`
	Timestamp string   `json:"timestamp"`
	User      string   `json:"user,omitempty"`
	WorkDir   string   `json:"work_dir,omitempty"`
	Shell     string   `json:"shell,omitempty"`
	CPUs      int      `json:"cpus"`
	Tools     []string `json:"tools,omitempty"`
}
