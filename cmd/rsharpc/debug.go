package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/peterh/liner"

	"github.com/robotino04/rsharpc/rsi"
)

var debugCommands = []string{"next", "run", "function", "quit"}

// stepThrough walks the fully lowered and allocated RSI one instruction
// at a time before anything is assembled, so a miscompiled function can
// be inspected with its live sets and register assignments visible.
func stepThrough(tu *rsi.TranslationUnit) error {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetCompleter(func(prefix string) []string {
		var out []string
		for _, cmd := range debugCommands {
			if strings.HasPrefix(cmd, prefix) {
				out = append(out, cmd)
			}
		}
		return out
	})

	fmt.Println("Commands:\n\tn or next: show next instruction\n\tr or run: show the rest of the current function\n\tf or function: show the whole current function\n\tq or quit: stop stepping and assemble")

	for _, fn := range tu.Functions {
		fmt.Printf("function %s:\n", fn.Name)
		skipping := false
		for idx, instr := range fn.Instructions {
			if skipping {
				fmt.Printf("%4d: %s\n", idx, instr.Stringify())
				continue
			}

		prompt:
			for {
				input, err := line.Prompt("rsi> ")
				if err != nil {
					if errors.Is(err, liner.ErrPromptAborted) {
						return nil
					}
					return err
				}
				line.AppendHistory(input)

				switch strings.TrimSpace(strings.ToLower(input)) {
				case "", "n", "next":
					fmt.Printf("%4d: %s\n", idx, instr.Stringify())
					break prompt
				case "r", "run":
					skipping = true
					fmt.Printf("%4d: %s\n", idx, instr.Stringify())
					break prompt
				case "f", "function":
					fmt.Print(rsi.StringifyFunction(fn))
				case "q", "quit":
					return nil
				default:
					fmt.Println("Unknown command:", input)
				}
			}
		}
	}
	return nil
}
