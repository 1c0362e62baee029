package converter

// stylesheet is shared by every content document.
const stylesheet = `h1 { margin-bottom: 2em; }
h2 { margin-top: 2em; margin-bottom: 2em; }
p { text-indent: 0; margin-top: 1.4em; margin-bottom: 1.4em; }
hr { border: none; border-top: 2px solid #ccc; margin: 2em 0; }
img { max-width: 100%; height: auto; display: block; margin: 1em auto; }
p.image { text-indent: 0; }
div.cover { text-align: center; }
div.cover img { max-width: 100%; height: auto; }
nav ol { list-style-type: none; padding-left: 0; }
`
