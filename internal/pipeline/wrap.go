package pipeline

// Preamble pauses execution in the browser debugger before the script starts.
const Preamble = `
/*

Step in, out or over any function you like from here on.
When the script finishes you will be shown the debugging flow you followed.

*/
debugger;
`

// Postamble hands the recording to the page once the script has run.
const Postamble = `
/*

Step over the next line to see the debugging flow you followed.

*/
done();
`

// Wrap surrounds source with Preamble and Postamble.
func Wrap(source string) string {
	return Preamble + source + Postamble
}
