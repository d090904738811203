package ctp

import (
	"bytes"
	"errors"

	"github.com/arashal/flowcap/parser"
)

// Parser extracts the command/argument from each request line and the
// status code/argument from each response line.
type Parser struct {
	command string
	arg     string

	statusCode string
	statusArg  string
}

// NewFactory returns the registry factory for this protocol.
func NewFactory() parser.Factory { return factory{} }

type factory struct{}

func (factory) Name() string          { return Name }
func (factory) Build() parser.Parser { return &Parser{} }

func (p *Parser) Parse(payload []byte, dir parser.Direction) parser.Status {
	if dir == parser.ToServer {
		return p.parseRequest(payload)
	}
	return p.parseResponse(payload)
}

func (p *Parser) parseRequest(payload []byte) parser.Status {
	line, err := trimCRLF(payload)
	if err != nil {
		return parser.Fail
	}

	var command, arg string
	if i := bytes.IndexByte(line, ' '); i == -1 {
		command = string(line)
	} else {
		command = string(line[:i])
		arg = string(line[i+1:])
	}
	if command == "" {
		return parser.Fail
	}

	p.command = command
	p.arg = arg
	return parser.Ok
}

func (p *Parser) parseResponse(payload []byte) parser.Status {
	line, err := trimCRLF(payload)
	if err != nil {
		return parser.Fail
	}

	i := bytes.IndexByte(line, ' ')
	if i == -1 {
		i = bytes.IndexByte(line, '-')
	}
	if i == -1 {
		return parser.Fail
	}

	p.statusCode = string(line[:i])
	p.statusArg = string(line[i+1:])
	return parser.Ok
}

func trimCRLF(payload []byte) ([]byte, error) {
	if !hasCRLFSuffix(payload) {
		return nil, errors.New("missing CRLF terminator")
	}
	return payload[:len(payload)-2], nil
}

func (p *Parser) Keys() []string {
	var keys []string
	if p.command != "" {
		keys = append(keys, "command", "arg")
	}
	if p.statusCode != "" {
		keys = append(keys, "status_code", "status_arg")
	}
	return keys
}

func (p *Parser) Get(key string) (interface{}, bool) {
	switch key {
	case "command":
		return p.command, p.command != ""
	case "arg":
		return p.arg, p.command != ""
	case "status_code":
		return p.statusCode, p.statusCode != ""
	case "status_arg":
		return p.statusArg, p.statusCode != ""
	}
	return nil, false
}
