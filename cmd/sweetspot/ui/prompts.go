package ui

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

var reader = bufio.NewReader(os.Stdin)

// SetInput replaces stdin for prompts.
func SetInput(r io.Reader) {
	reader = bufio.NewReader(r)
}

// Prompt asks the user for input with a prompt message.
func Prompt(message string) (string, error) {
	fmt.Fprintf(out, "%s: ", message)
	input, err := reader.ReadString('\n')
	if err != nil && (err != io.EOF || input == "") {
		return "", err
	}
	return strings.TrimSpace(input), nil
}

// PromptWithDefault asks the user for input with a default value.
func PromptWithDefault(message, defaultValue string) (string, error) {
	input, err := Prompt(fmt.Sprintf("%s [%s]", message, defaultValue))
	if err != nil {
		return "", err
	}
	if input == "" {
		return defaultValue, nil
	}
	return input, nil
}

// Confirm asks the user for a yes/no confirmation.
func Confirm(message string, defaultValue bool) (bool, error) {
	defaultStr := "y/N"
	if defaultValue {
		defaultStr = "Y/n"
	}

	input, err := Prompt(fmt.Sprintf("%s [%s]", message, defaultStr))
	if err != nil {
		if err == io.EOF {
			return defaultValue, nil
		}
		return false, err
	}

	input = strings.ToLower(input)
	if input == "" {
		return defaultValue, nil
	}
	return input == "y" || input == "yes", nil
}

// PromptRequired asks again until the input is not empty.
func PromptRequired(message string) (string, error) {
	for {
		input, err := Prompt(message)
		if err != nil {
			return "", err
		}
		if input != "" {
			return input, nil
		}
		Error("This field is required. Please enter a value.")
	}
}
