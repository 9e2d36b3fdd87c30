package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
)

type lineInput interface {
	ReadLine(prompt string) (string, error)
	Close() error
}

// basicLineInput 在 readline 不可用时（例如输入被重定向）逐行读取
// basicLineInput reads plain lines when readline is unavailable, for example with redirected stdin
type basicLineInput struct {
	reader *bufio.Reader
	out    io.Writer
}

func newBasicLineInput(in io.Reader, out io.Writer) *basicLineInput {
	return &basicLineInput{reader: bufio.NewReader(in), out: out}
}

func (b *basicLineInput) ReadLine(prompt string) (string, error) {
	if b.out != nil {
		fmt.Fprint(b.out, prompt)
	}
	line, err := b.reader.ReadString('\n')
	if err != nil {
		if err == io.EOF && line != "" {
			return strings.TrimRight(line, "\r\n"), nil
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (b *basicLineInput) Close() error { return nil }

type readlineInput struct {
	instance *readline.Instance
}

func newReadlineInput(historyPath string) (*readlineInput, error) {
	if historyPath != "" {
		if err := os.MkdirAll(filepath.Dir(historyPath), 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}
	instance, err := readline.NewEx(&readline.Config{
		Prompt:            "> ",
		HistoryFile:       historyPath,
		HistorySearchFold: true,
		AutoComplete:      slashCompleter(),
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
	})
	if err != nil {
		return nil, err
	}
	return &readlineInput{instance: instance}, nil
}

func (r *readlineInput) ReadLine(prompt string) (string, error) {
	r.instance.SetPrompt(prompt)
	return r.instance.Readline()
}

func (r *readlineInput) Close() error {
	if r == nil || r.instance == nil {
		return nil
	}
	return r.instance.Close()
}

// newLineInput 优先 readline；失败时返回基础输入和原因
// newLineInput prefers readline and falls back to basic input, returning why
func newLineInput(historyPath string) (lineInput, error) {
	readlineReader, err := newReadlineInput(historyPath)
	if err == nil {
		return readlineReader, nil
	}
	return newBasicLineInput(os.Stdin, os.Stdout), err
}

func slashCompleter() *readline.PrefixCompleter {
	items := make([]readline.PrefixCompleterInterface, 0, len(replCommands))
	for _, c := range replCommands {
		name, _, _ := strings.Cut(c.usage, " ")
		items = append(items, readline.PcItem(name))
	}
	return readline.NewPrefixCompleter(items...)
}
