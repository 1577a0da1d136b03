package server

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

// testClient is a minimal raw-socket FTP client used only to drive the
// end-to-end scenarios in the server package's own tests. It speaks just
// enough of the protocol to log in, navigate, and transfer files against
// a real net.Listener; it is not meant for production use.
type testClient struct {
	conn   net.Conn
	reader *bufio.Reader
}

func dialTestClient(addr string) (*testClient, error) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, err
	}
	c := &testClient{conn: conn, reader: bufio.NewReader(conn)}
	if _, _, err := c.readReply(); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *testClient) Close() error {
	return c.conn.Close()
}

// readReply reads one reply, following RFC 959's multi-line convention
// ("NNN-" continuation lines terminated by a final "NNN " line).
func (c *testClient) readReply() (code int, lines []string, err error) {
	for {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			return 0, nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if len(line) < 4 {
			continue
		}
		code, convErr := strconv.Atoi(line[:3])
		if convErr != nil {
			continue
		}
		lines = append(lines, line[4:])
		if line[3] == ' ' {
			return code, lines, nil
		}
	}
}

func (c *testClient) cmd(format string, args ...interface{}) (int, []string, error) {
	if _, err := fmt.Fprintf(c.conn, format+"\r\n", args...); err != nil {
		return 0, nil, err
	}
	return c.readReply()
}

func (c *testClient) Login(user, pass string) error {
	code, _, err := c.cmd("USER %s", user)
	if err != nil {
		return err
	}
	if code != 331 {
		return fmt.Errorf("USER: expected 331, got %d", code)
	}
	code, _, err = c.cmd("PASS %s", pass)
	if err != nil {
		return err
	}
	if code != 230 {
		return fmt.Errorf("PASS: expected 230, got %d", code)
	}
	return nil
}

func (c *testClient) Pwd() (string, error) {
	code, lines, err := c.cmd("PWD")
	if err != nil {
		return "", err
	}
	if code != 257 {
		return "", fmt.Errorf("PWD: expected 257, got %d", code)
	}
	text := lines[0]
	if i := strings.IndexByte(text, '"'); i == 0 {
		if j := strings.IndexByte(text[1:], '"'); j >= 0 {
			return text[1 : j+1], nil
		}
	}
	return text, nil
}

// pasv opens a data connection via PASV.
func (c *testClient) pasv() (net.Conn, error) {
	code, lines, err := c.cmd("PASV")
	if err != nil {
		return nil, err
	}
	if code != 227 {
		return nil, fmt.Errorf("PASV: expected 227, got %d", code)
	}

	open := strings.IndexByte(lines[0], '(')
	shut := strings.IndexByte(lines[0], ')')
	if open < 0 || shut < 0 {
		return nil, fmt.Errorf("PASV: malformed reply %q", lines[0])
	}
	parts := strings.Split(lines[0][open+1:shut], ",")
	if len(parts) != 6 {
		return nil, fmt.Errorf("PASV: malformed address %q", lines[0])
	}
	p1, _ := strconv.Atoi(parts[4])
	p2, _ := strconv.Atoi(parts[5])
	addr := fmt.Sprintf("%s.%s.%s.%s:%d", parts[0], parts[1], parts[2], parts[3], p1*256+p2)
	return net.DialTimeout("tcp", addr, 5*time.Second)
}

func (c *testClient) List(arg string) ([]string, error) {
	dataConn, err := c.pasv()
	if err != nil {
		return nil, err
	}
	defer dataConn.Close()

	code, _, err := c.cmd("LIST %s", arg)
	if err != nil {
		return nil, err
	}
	if code != 150 {
		return nil, fmt.Errorf("LIST: expected 150, got %d", code)
	}

	body, err := io.ReadAll(dataConn)
	if err != nil {
		return nil, err
	}

	code, _, err = c.readReply()
	if err != nil {
		return nil, err
	}
	if code != 226 {
		return nil, fmt.Errorf("LIST completion: expected 226, got %d", code)
	}

	var lines []string
	for _, l := range strings.Split(strings.TrimRight(string(body), "\r\n"), "\n") {
		lines = append(lines, strings.TrimRight(l, "\r"))
	}
	return lines, nil
}

func (c *testClient) NameList(arg string) ([]string, error) {
	dataConn, err := c.pasv()
	if err != nil {
		return nil, err
	}
	defer dataConn.Close()

	code, _, err := c.cmd("NLST %s", arg)
	if err != nil {
		return nil, err
	}
	if code != 150 {
		return nil, fmt.Errorf("NLST: expected 150, got %d", code)
	}

	body, err := io.ReadAll(dataConn)
	if err != nil {
		return nil, err
	}

	code, _, err = c.readReply()
	if err != nil {
		return nil, err
	}
	if code != 226 {
		return nil, fmt.Errorf("NLST completion: expected 226, got %d", code)
	}

	var names []string
	for _, l := range strings.Split(strings.TrimRight(string(body), "\r\n"), "\n") {
		l = strings.TrimRight(l, "\r")
		if l != "" {
			names = append(names, l)
		}
	}
	return names, nil
}

func (c *testClient) Retrieve(name string) ([]byte, error) {
	dataConn, err := c.pasv()
	if err != nil {
		return nil, err
	}
	defer dataConn.Close()

	code, _, err := c.cmd("RETR %s", name)
	if err != nil {
		return nil, err
	}
	if code != 150 {
		return nil, fmt.Errorf("RETR: expected 150, got %d", code)
	}

	body, err := io.ReadAll(dataConn)
	if err != nil {
		return nil, err
	}

	code, _, err = c.readReply()
	if err != nil {
		return nil, err
	}
	if code != 226 {
		return nil, fmt.Errorf("RETR completion: expected 226, got %d", code)
	}
	return body, nil
}

func (c *testClient) RetrieveFrom(name string, offset int64) ([]byte, error) {
	code, _, err := c.cmd("REST %d", offset)
	if err != nil {
		return nil, err
	}
	if code != 350 {
		return nil, fmt.Errorf("REST: expected 350, got %d", code)
	}
	return c.Retrieve(name)
}

func (c *testClient) Store(name string, data []byte) error {
	dataConn, err := c.pasv()
	if err != nil {
		return err
	}
	defer dataConn.Close()

	code, _, err := c.cmd("STOR %s", name)
	if err != nil {
		return err
	}
	if code != 150 {
		return fmt.Errorf("STOR: expected 150, got %d", code)
	}

	if _, err := dataConn.Write(data); err != nil {
		return err
	}
	dataConn.Close()

	code, _, err = c.readReply()
	if err != nil {
		return err
	}
	if code != 226 {
		return fmt.Errorf("STOR completion: expected 226, got %d", code)
	}
	return nil
}

func (c *testClient) Append(name string, data []byte) error {
	dataConn, err := c.pasv()
	if err != nil {
		return err
	}
	defer dataConn.Close()

	code, _, err := c.cmd("APPE %s", name)
	if err != nil {
		return err
	}
	if code != 150 {
		return fmt.Errorf("APPE: expected 150, got %d", code)
	}

	if _, err := dataConn.Write(data); err != nil {
		return err
	}
	dataConn.Close()

	code, _, err = c.readReply()
	if err != nil {
		return err
	}
	if code != 226 {
		return fmt.Errorf("APPE completion: expected 226, got %d", code)
	}
	return nil
}

func (c *testClient) MakeDir(name string) error {
	code, _, err := c.cmd("MKD %s", name)
	if err != nil {
		return err
	}
	if code != 257 {
		return fmt.Errorf("MKD: expected 257, got %d", code)
	}
	return nil
}

func (c *testClient) RemoveDir(name string) error {
	code, _, err := c.cmd("RMD %s", name)
	if err != nil {
		return err
	}
	if code != 250 {
		return fmt.Errorf("RMD: expected 250, got %d", code)
	}
	return nil
}

func (c *testClient) Delete(name string) error {
	code, _, err := c.cmd("DELE %s", name)
	if err != nil {
		return err
	}
	if code != 250 {
		return fmt.Errorf("DELE: expected 250, got %d", code)
	}
	return nil
}

func (c *testClient) Rename(from, to string) error {
	code, _, err := c.cmd("RNFR %s", from)
	if err != nil {
		return err
	}
	if code != 350 {
		return fmt.Errorf("RNFR: expected 350, got %d", code)
	}
	code, _, err = c.cmd("RNTO %s", to)
	if err != nil {
		return err
	}
	if code != 250 {
		return fmt.Errorf("RNTO: expected 250, got %d", code)
	}
	return nil
}

func (c *testClient) Quit() error {
	_, _, err := c.cmd("QUIT")
	return err
}
