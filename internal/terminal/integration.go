package terminal

// Shell integration prints OSC 633 markers: A prompt start, B prompt end,
// D;<exit> command finished. The leading space keeps the line out of history.

const bashIntegration = ` __cortex_prompt() { local ec=$?; printf '\033]633;D;%s\007\033]633;A\007' "$ec"; }; ` +
	`PROMPT_COMMAND="__cortex_prompt${PROMPT_COMMAND:+;$PROMPT_COMMAND}"; ` +
	`PS1="${PS1}\[\033]633;B\007\]"; clear` + "\n"

const zshIntegration = ` __cortex_precmd() { local ec=$?; print -Pn "\e]633;D;${ec}\a\e]633;A\a"; }; ` +
	`precmd_functions+=(__cortex_precmd); PS1="${PS1}%{"$'\e]633;B\a'"%}"; clear` + "\n"

const fishIntegration = ` function __cortex_prompt --on-event fish_prompt; printf '\e]633;D;%s\a\e]633;A\a' $status; end; clear` + "\n"

func integrationScript(shell string) string {
	switch shellName(shell) {
	case "bash":
		return bashIntegration
	case "zsh":
		return zshIntegration
	case "fish":
		return fishIntegration
	default:
		return ""
	}
}
