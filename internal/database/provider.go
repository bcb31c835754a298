package database

import (
	"fmt"
)

var (
	localFaceWriter  func() FaceWriter
	remoteFaceWriter func() FaceWriter
	localReady       bool
	remoteReady      bool
)

// RegisterLocalBackend registers the local-tier repository constructor.
// Called by the local package to avoid import cycles.
func RegisterLocalBackend(writer func() FaceWriter) {
	localFaceWriter = writer
	localReady = true
}

// RegisterRemoteBackend registers the remote-tier repository constructor.
// Called by the postgres package to avoid import cycles.
func RegisterRemoteBackend(writer func() FaceWriter) {
	remoteFaceWriter = writer
	remoteReady = true
}

// HasRemote returns whether a remote backend has been configured. The remote
// tier is optional; without it the store runs local-only.
func HasRemote() bool {
	return remoteReady
}

// GetLocalFaceWriter returns the local-tier face writer.
func GetLocalFaceWriter() (FaceWriter, error) {
	if !localReady || localFaceWriter == nil {
		return nil, fmt.Errorf("local embedding store not initialized")
	}
	return localFaceWriter(), nil
}

// GetRemoteFaceWriter returns the remote-tier face writer.
func GetRemoteFaceWriter() (FaceWriter, error) {
	if !remoteReady || remoteFaceWriter == nil {
		return nil, fmt.Errorf("remote embedding store not initialized: DATABASE_URL is required")
	}
	return remoteFaceWriter(), nil
}

// GetTieredStore builds the dual-tier store from the registered backends.
// The remote tier is attached when available.
func GetTieredStore() (*Tiered, error) {
	local, err := GetLocalFaceWriter()
	if err != nil {
		return nil, err
	}
	var remote FaceWriter
	if HasRemote() {
		remote, err = GetRemoteFaceWriter()
		if err != nil {
			return nil, err
		}
	}
	return NewTiered(local, remote), nil
}
