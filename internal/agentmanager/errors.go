package agentmanager

import "errors"

// Sentinel error kinds AGM operations fail with. Callers
// match with errors.Is; wrapped context is added with fmt.Errorf("...: %w").
var (
	ErrManifestInvalid     = errors.New("ManifestInvalid")
	ErrRuntimeUnavailable  = errors.New("RuntimeUnavailable")
	ErrImagePullFailed     = errors.New("ImagePullFailed")
	ErrInstallFailed       = errors.New("InstallFailed")
	ErrContainerStartFailed = errors.New("ContainerStartFailed")
	ErrProbeFailed         = errors.New("ProbeFailed")
	ErrPortAllocationFailed = errors.New("PortAllocationFailed")
	ErrLockBusy            = errors.New("LockBusy")
)
