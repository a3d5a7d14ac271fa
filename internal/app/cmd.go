package app

import (
	"fmt"
	"io"
	"strings"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	CommandServe       Command = "serve"
	CommandWorker      Command = "worker"
	CommandMigrate     Command = "migrate"
	CommandSeed        Command = "seed"
	CommandHealthcheck Command = "healthcheck"
	CommandHelp        Command = "help"
)

// commands はusage表示順のサブコマンド一覧。
var commands = []struct {
	cmd     Command
	summary string
}{
	{CommandServe, "APIサーバーを起動する（既定）"},
	{CommandWorker, "トークン更新とセッション掃除のワーカーを起動する"},
	{CommandMigrate, "データベースマイグレーションを適用する"},
	{CommandSeed, "開発用のデモデータを投入する"},
	{CommandHealthcheck, "serveの/healthを確認する（distrolessのHEALTHCHECK用）"},
	{CommandHelp, "このヘルプを表示する"},
}

// ParseCommand はコマンドライン引数の先頭からサブコマンドを解析する。
// 引数が空の場合はCommandServe。2番目以降の引数は無視する。
func ParseCommand(args []string) (Command, error) {
	if len(args) == 0 {
		return CommandServe, nil
	}

	name := strings.TrimSpace(args[0])
	switch name {
	case "-h", "--help":
		return CommandHelp, nil
	}
	for _, c := range commands {
		if string(c.cmd) == name {
			return c.cmd, nil
		}
	}
	return "", fmt.Errorf("unknown command %q (run \"socialhub help\")", name)
}

// PrintUsage はサブコマンドの一覧を書き出す。
func PrintUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: socialhub [command]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "commands:")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-12s %s\n", c.cmd, c.summary)
	}
}
