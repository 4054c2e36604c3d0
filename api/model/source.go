package model

type SourceInstance struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
}

type SourceRequest struct {
	IP       string `json:"ip" validate:"required,ipv4"`
	Username string `json:"username" validate:"required,username"`
	Port     int    `json:"port,omitempty" validate:"omitempty,min=1,max=65535"`
}

type FileRequest struct {
	SourceRequest
	FilePath string `json:"filePath" validate:"required"`
}

type FileResponse struct {
	Logs    []string `json:"logs"`
	Content string   `json:"content"`
}

type TargetRequest struct {
	IP       string `json:"ip" validate:"required,ipv4"`
	Username string `json:"username" validate:"omitempty,username"`
	Password string `json:"password" validate:"required"`
	Port     int    `json:"port,omitempty" validate:"omitempty,min=1,max=65535"`
}

type SourceReport struct {
	Connected bool             `json:"connected"`
	Instances []SourceInstance `json:"instances"`
	DiskSpace string           `json:"diskSpace"`
	Memory    string           `json:"memory"`
	Error     string           `json:"error,omitempty"`
}

type ConnectionStatus struct {
	SSHConnection  bool   `json:"sshConnection"`
	RootAccess     bool   `json:"rootAccess"`
	DiskSpace      string `json:"diskSpace"`
	SystemInfo     string `json:"systemInfo"`
	ListeningPorts string `json:"listeningPorts"`
	Memory         string `json:"memory"`
	NodeProcesses  string `json:"nodeProcesses"`
	Error          string `json:"error,omitempty"`
}

type PreflightRequest struct {
	Source SourceRequest `json:"source"`
	Target TargetRequest `json:"target"`
}

type PreflightReport struct {
	Source SourceReport     `json:"source"`
	Target ConnectionStatus `json:"target"`
	Ready  bool             `json:"ready"`
}
