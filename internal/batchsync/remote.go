package batchsync

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// RemoteFS is the file drop shared with the counterparty. Paths are relative
// to the login directory and use forward slashes.
type RemoteFS interface {
	IsDir(path string) (bool, error)
	// List returns the regular files of dir.
	List(dir string) ([]string, error)
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte) error
	Exists(path string) (bool, error)
	Rename(from, to string) error
	Remove(path string) error
}

// SFTPConfig describes the SSH login.
type SFTPConfig struct {
	Addr           string
	User           string
	Password       string
	KeyFile        string
	KnownHostsFile string
	Timeout        time.Duration
}

// SFTP is a RemoteFS over an SSH connection.
type SFTP struct {
	conn   *ssh.Client
	client *sftp.Client
}

var _ RemoteFS = (*SFTP)(nil)

func DialSFTP(cfg SFTPConfig) (*SFTP, error) {
	if cfg.KnownHostsFile == "" {
		return nil, errors.New("sftp: known hosts file is required")
	}
	hostKeys, err := knownhosts.New(cfg.KnownHostsFile)
	if err != nil {
		return nil, fmt.Errorf("sftp: known hosts: %w", err)
	}
	var auth []ssh.AuthMethod
	if cfg.KeyFile != "" {
		pem, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("sftp: read key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, fmt.Errorf("sftp: parse key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		auth = append(auth, ssh.Password(cfg.Password))
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	conn, err := ssh.Dial("tcp", cfg.Addr, &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("sftp: dial %s: %w", cfg.Addr, err)
	}
	client, err := sftp.NewClient(conn)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("sftp: session: %w", err)
	}
	return &SFTP{conn: conn, client: client}, nil
}

func (s *SFTP) Close() error {
	return errors.Join(s.client.Close(), s.conn.Close())
}

func (s *SFTP) IsDir(path string) (bool, error) {
	fi, err := s.client.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return fi.IsDir(), nil
}

func (s *SFTP) List(dir string) ([]string, error) {
	infos, err := s.client.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, fi := range infos {
		if fi.Mode().IsRegular() {
			names = append(names, fi.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *SFTP) ReadFile(path string) ([]byte, error) {
	f, err := s.client.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (s *SFTP) WriteFile(path string, data []byte) error {
	f, err := s.client.Create(path)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (s *SFTP) Exists(path string) (bool, error) {
	_, err := s.client.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (s *SFTP) Rename(from, to string) error { return s.client.Rename(from, to) }

func (s *SFTP) Remove(path string) error { return s.client.Remove(path) }
